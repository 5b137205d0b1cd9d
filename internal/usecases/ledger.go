package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"soulbot/internal/entities"
	"soulbot/internal/interfaces"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type PaymentStatus string

const (
	PaymentGranted          PaymentStatus = "granted"
	PaymentExtended         PaymentStatus = "extended"
	PaymentAlreadyProcessed PaymentStatus = "already_processed"
)

type PaymentResult struct {
	Status    PaymentStatus
	ExpiresAt time.Time
	Account   *entities.UserAccount
}

// EntitlementLedger is the single authority over quota and subscription
// state. It never talks to the chat transport or the generation service.
type EntitlementLedger struct {
	store  interfaces.AccountStore
	policy entities.QuotaPolicy
	now    func() time.Time
	log    zerolog.Logger
}

func NewEntitlementLedger(store interfaces.AccountStore, policy entities.QuotaPolicy, log zerolog.Logger) *EntitlementLedger {
	return &EntitlementLedger{
		store:  store,
		policy: policy,
		now:    func() time.Time { return time.Now().UTC() },
		log:    log.With().Str("component", "ledger").Logger(),
	}
}

// WithClock replaces the time source; used by tests and replays.
func (l *EntitlementLedger) WithClock(now func() time.Time) *EntitlementLedger {
	l.now = now
	return l
}

func (l *EntitlementLedger) Policy() entities.QuotaPolicy {
	return l.policy
}

// EnsureAccount returns the stored account for externalID, creating it with
// the default free allotment on first contact.
func (l *EntitlementLedger) EnsureAccount(ctx context.Context, externalID, displayName string) (*entities.UserAccount, error) {
	if strings.TrimSpace(externalID) == "" {
		return nil, entities.ValidationError{Field: "external_id", Message: "required"}
	}

	acc, err := l.store.GetAccount(ctx, externalID)
	if err == nil {
		return acc, nil
	}
	if !errors.Is(err, entities.ErrAccountNotFound) {
		return nil, unavailable(err)
	}

	fresh := NewAccount(uuid.NewString(), externalID, displayName, l.now(), l.policy)
	acc, err = l.store.CreateAccount(ctx, fresh)
	if err != nil {
		return nil, unavailable(err)
	}
	if acc.ID == fresh.ID {
		l.log.Info().Str("external_id", externalID).Str("account_id", acc.ID).Msg("account created")
	}
	return acc, nil
}

// Consume applies due resets and reserves one credit in a single
// read-modify-write. Storage failures fail closed.
func (l *EntitlementLedger) Consume(ctx context.Context, externalID, displayName string) (Decision, error) {
	var d Decision
	err := l.mutate(ctx, externalID, displayName, func(tx interfaces.AccountTx) error {
		now := l.now()
		acc := tx.Account()
		*acc = *ResetIfDue(acc, now, l.policy)
		d = TryConsume(acc, now)
		if d.Allowed {
			acc.LastInteractionAt = &now
		}
		return nil
	})
	if err != nil {
		l.log.Error().Err(err).Str("external_id", externalID).Msg("consume failed, refusing")
		return Decision{Reason: ReasonUnavailable}, err
	}

	if !d.Allowed {
		l.log.Debug().Str("external_id", externalID).Str("reason", string(d.Reason)).Msg("request refused")
	}
	return d, nil
}

// ConfirmPayment records a confirmed charge and grants or extends premium.
// A charge id seen before is reported as already processed and grants nothing.
func (l *EntitlementLedger) ConfirmPayment(ctx context.Context, ev entities.PaymentEvent) (PaymentResult, error) {
	if err := validatePayment(ev); err != nil {
		return PaymentResult{}, err
	}

	var res PaymentResult
	err := l.mutate(ctx, ev.ExternalID, "", func(tx interfaces.AccountTx) error {
		now := l.now()
		acc := tx.Account()

		seen, err := tx.PaymentExists(ctx, ev.ChargeID)
		if err != nil {
			return err
		}
		if seen {
			res = PaymentResult{Status: PaymentAlreadyProcessed}
			return nil
		}

		rec := &entities.PaymentRecord{
			ID:        uuid.NewString(),
			AccountID: acc.ID,
			Amount:    ev.Amount,
			Currency:  strings.ToUpper(ev.Currency),
			ChargeID:  ev.ChargeID,
			Provider:  ev.Provider,
			CreatedAt: now,
		}
		if err := tx.RecordPayment(ctx, rec); err != nil {
			if errors.Is(err, entities.ErrDuplicatePayment) {
				res = PaymentResult{Status: PaymentAlreadyProcessed}
				return nil
			}
			return err
		}

		status := PaymentGranted
		if acc.PremiumActive(now) {
			status = PaymentExtended
		}
		*acc = *GrantOrExtendPremium(acc, now, l.policy.ExtensionPeriod(), l.policy)
		res = PaymentResult{Status: status, ExpiresAt: *acc.PremiumExpiresAt}
		return nil
	})
	if err != nil {
		return PaymentResult{}, err
	}

	if res.Status == PaymentAlreadyProcessed {
		l.log.Info().Str("charge_id", ev.ChargeID).Msg("payment already processed")
		return res, nil
	}

	l.log.Info().
		Str("external_id", ev.ExternalID).
		Str("charge_id", ev.ChargeID).
		Str("status", string(res.Status)).
		Time("expires_at", res.ExpiresAt).
		Msg("premium granted")
	return res, nil
}

// UnlockPersona adds personaName to the account's unlocked set. It returns
// false, not an error, when the persona was already unlocked.
func (l *EntitlementLedger) UnlockPersona(ctx context.Context, externalID, personaName string) (bool, error) {
	personaName = strings.TrimSpace(personaName)
	if personaName == "" {
		return false, entities.ValidationError{Field: "persona", Message: "required"}
	}

	var unlocked bool
	err := l.mutate(ctx, externalID, "", func(tx interfaces.AccountTx) error {
		var err error
		unlocked, err = tx.UnlockPersona(ctx, personaName, l.now())
		return err
	})
	return unlocked, err
}

func (l *EntitlementLedger) UnlockedPersonas(ctx context.Context, externalID string) ([]string, error) {
	acc, err := l.EnsureAccount(ctx, externalID, "")
	if err != nil {
		return nil, err
	}
	names, err := l.store.UnlockedPersonas(ctx, acc.ID)
	if err != nil {
		return nil, unavailable(err)
	}
	return names, nil
}

// Lookup returns the stored account without creating it.
func (l *EntitlementLedger) Lookup(ctx context.Context, externalID string) (*entities.UserAccount, error) {
	acc, err := l.store.GetAccount(ctx, externalID)
	if err != nil && !errors.Is(err, entities.ErrAccountNotFound) {
		return nil, unavailable(err)
	}
	return acc, err
}

// Status applies due resets and returns a snapshot of the account.
func (l *EntitlementLedger) Status(ctx context.Context, externalID, displayName string) (*entities.UserAccount, error) {
	var snapshot *entities.UserAccount
	err := l.mutate(ctx, externalID, displayName, func(tx interfaces.AccountTx) error {
		acc := tx.Account()
		*acc = *ResetIfDue(acc, l.now(), l.policy)
		snapshot = acc.Clone()
		return nil
	})
	return snapshot, err
}

// RecordInteraction appends to the interaction log. The log is diagnostic
// only, so failures are logged and dropped.
func (l *EntitlementLedger) RecordInteraction(ctx context.Context, accountID, input, output, persona string) {
	entry := entities.InteractionLog{
		AccountID:  accountID,
		InputText:  input,
		OutputText: output,
		Persona:    persona,
		CreatedAt:  l.now(),
	}
	if err := l.store.LogInteraction(ctx, entry); err != nil {
		l.log.Warn().Err(err).Str("account_id", accountID).Msg("interaction log write failed")
	}
}

// mutate runs fn under the account lock, creating the account first when
// the store does not know it yet.
func (l *EntitlementLedger) mutate(ctx context.Context, externalID, displayName string, fn func(tx interfaces.AccountTx) error) error {
	err := l.store.MutateAccount(ctx, externalID, fn)
	if errors.Is(err, entities.ErrAccountNotFound) {
		if _, err = l.EnsureAccount(ctx, externalID, displayName); err != nil {
			return err
		}
		err = l.store.MutateAccount(ctx, externalID, fn)
	}
	if err != nil {
		var verr entities.ValidationError
		if errors.As(err, &verr) || errors.Is(err, entities.ErrPersistenceUnavailable) {
			return err
		}
		return unavailable(err)
	}
	return nil
}

func validatePayment(ev entities.PaymentEvent) error {
	switch {
	case strings.TrimSpace(ev.ExternalID) == "":
		return fmt.Errorf("%w: missing external id", entities.ErrInvalidPayment)
	case strings.TrimSpace(ev.ChargeID) == "":
		return fmt.Errorf("%w: missing charge id", entities.ErrInvalidPayment)
	case ev.Amount <= 0:
		return fmt.Errorf("%w: amount must be positive", entities.ErrInvalidPayment)
	case strings.TrimSpace(ev.Currency) == "":
		return fmt.Errorf("%w: missing currency", entities.ErrInvalidPayment)
	}
	return nil
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %w", entities.ErrPersistenceUnavailable, err)
}
