package usecases

import (
	"time"

	"soulbot/internal/entities"
)

// Pool names the counter a consumption is drawn from.
type Pool string

const (
	PoolFree    Pool = "free"
	PoolPremium Pool = "premium"
)

type RefusalReason string

const (
	ReasonNone             RefusalReason = ""
	ReasonFreeExhausted    RefusalReason = "free allotment exhausted"
	ReasonPremiumExhausted RefusalReason = "premium daily limit exhausted"
	ReasonUnavailable      RefusalReason = "try later"
)

// Decision is the outcome of one consumption attempt.
type Decision struct {
	Allowed   bool
	Pool      Pool
	Reason    RefusalReason
	Remaining int
	// RetryAfter is the time left until the exhausted pool refills.
	RetryAfter time.Duration
	// PremiumLapsed is set when the account still carries the premium flag
	// but the paid period is over; callers show a renewal prompt.
	PremiumLapsed bool
	AccountID     string
}

// ResetIfDue refills whichever pools have crossed their reset boundary.
// New boundaries are measured from now, so they always land strictly after
// now and a second call in the same period changes nothing.
func ResetIfDue(acc *entities.UserAccount, now time.Time, policy entities.QuotaPolicy) *entities.UserAccount {
	out := acc.Clone()

	if !now.Before(out.FreeResetAt) {
		out.FreeCreditsRemaining = policy.FreeAllotment
		out.FreeResetAt = now.Add(policy.FreePeriod())
	}

	if out.PremiumActive(now) && (out.PremiumResetAt == nil || !now.Before(*out.PremiumResetAt)) {
		next := now.Add(policy.PremiumPeriod())
		out.PremiumCreditsRemaining = policy.PremiumAllotment
		out.PremiumResetAt = &next
	}

	return out
}

// TryConsume takes one credit from the active pool. A refusal leaves acc
// untouched; an allowed call changes exactly one counter by one.
func TryConsume(acc *entities.UserAccount, now time.Time) Decision {
	d := Decision{AccountID: acc.ID}

	if acc.PremiumActive(now) {
		d.Pool = PoolPremium
		if acc.PremiumCreditsRemaining <= 0 {
			d.Reason = ReasonPremiumExhausted
			if acc.PremiumResetAt != nil && acc.PremiumResetAt.After(now) {
				d.RetryAfter = acc.PremiumResetAt.Sub(now)
			}
			return d
		}
		acc.PremiumCreditsRemaining--
		d.Allowed = true
		d.Remaining = acc.PremiumCreditsRemaining
		return d
	}

	d.Pool = PoolFree
	d.PremiumLapsed = acc.PremiumLapsed(now)
	if acc.FreeCreditsRemaining <= 0 {
		d.Reason = ReasonFreeExhausted
		if acc.FreeResetAt.After(now) {
			d.RetryAfter = acc.FreeResetAt.Sub(now)
		}
		return d
	}
	acc.FreeCreditsRemaining--
	d.Allowed = true
	d.Remaining = acc.FreeCreditsRemaining
	return d
}

// GrantOrExtendPremium stacks period onto an active entitlement, or starts
// a fresh one from now with a full premium pool.
func GrantOrExtendPremium(acc *entities.UserAccount, now time.Time, period time.Duration, policy entities.QuotaPolicy) *entities.UserAccount {
	out := acc.Clone()

	if out.PremiumActive(now) {
		extended := out.PremiumExpiresAt.Add(period)
		out.PremiumExpiresAt = &extended
		return out
	}

	expires := now.Add(period)
	reset := now.Add(policy.PremiumPeriod())
	out.IsPremium = true
	out.PremiumExpiresAt = &expires
	out.PremiumCreditsRemaining = policy.PremiumAllotment
	out.PremiumResetAt = &reset
	return out
}

// NewAccount builds the lazily created account for a first contact.
func NewAccount(id, externalID, displayName string, now time.Time, policy entities.QuotaPolicy) *entities.UserAccount {
	return &entities.UserAccount{
		ID:                   id,
		ExternalID:           externalID,
		DisplayName:          displayName,
		FreeCreditsRemaining: policy.FreeAllotment,
		FreeResetAt:          now.Add(policy.FreePeriod()),
		CreatedAt:            now,
	}
}
