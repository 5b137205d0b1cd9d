package usecases

import (
	"context"
	"time"

	"soulbot/internal/entities"
	"soulbot/internal/interfaces"
)

// AccountOverview is what the admin API shows for one user.
type AccountOverview struct {
	Account       *entities.UserAccount `json:"account"`
	PremiumActive bool                  `json:"premium_active"`
	Personas      []string              `json:"personas"`
	Usage         []entities.DailyUsage `json:"usage,omitempty"`
}

type DashboardUsecase struct {
	ledger   *EntitlementLedger
	payments *PaymentService
	usage    interfaces.UsageReporter
}

// NewDashboardUsecase builds the admin view. usage may be nil when the
// store keeps no interaction history.
func NewDashboardUsecase(ledger *EntitlementLedger, payments *PaymentService, usage interfaces.UsageReporter) *DashboardUsecase {
	return &DashboardUsecase{ledger: ledger, payments: payments, usage: usage}
}

// GetAccount reports on an existing account; unknown ids return
// entities.ErrAccountNotFound rather than creating one.
func (u *DashboardUsecase) GetAccount(ctx context.Context, externalID string, days int) (*AccountOverview, error) {
	if _, err := u.ledger.Lookup(ctx, externalID); err != nil {
		return nil, err
	}
	acc, err := u.ledger.Status(ctx, externalID, "")
	if err != nil {
		return nil, err
	}
	personas, err := u.ledger.UnlockedPersonas(ctx, externalID)
	if err != nil {
		return nil, err
	}

	out := &AccountOverview{
		Account:       acc,
		PremiumActive: acc.PremiumActive(u.ledger.now()),
		Personas:      personas,
	}
	if u.usage != nil && days > 0 {
		since := u.ledger.now().Add(-entities.Days(days))
		out.Usage, err = u.usage.UsageHistory(ctx, acc.ID, since)
		if err != nil {
			return nil, unavailable(err)
		}
	}
	return out, nil
}

// GrantPremium confirms a payment taken outside the bot, e.g. a bank
// transfer, so it goes through the same dedupe as provider events.
func (u *DashboardUsecase) GrantPremium(ctx context.Context, ev entities.PaymentEvent) (PaymentResult, error) {
	ev.Provider = "manual"
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	return u.payments.Confirm(ctx, ev)
}

func (u *DashboardUsecase) UnlockPersona(ctx context.Context, externalID, persona string) (bool, error) {
	return u.ledger.UnlockPersona(ctx, externalID, persona)
}
