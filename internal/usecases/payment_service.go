package usecases

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"soulbot/internal/config"
	"soulbot/internal/entities"
	"soulbot/internal/interfaces"

	"github.com/rs/zerolog"
)

const (
	invoicePayloadPrefix = "premium:"
	// encoded client references; a Telegram chat id never starts with it
	clientReferencePrefix = "k_"
)

// PaymentService turns provider-confirmed charges into premium time and
// tells the user about it.
type PaymentService struct {
	ledger     *EntitlementLedger
	bot        *config.BotConfig
	messengers map[string]interfaces.Messenger
	log        zerolog.Logger
}

func NewPaymentService(ledger *EntitlementLedger, bot *config.BotConfig, log zerolog.Logger) *PaymentService {
	return &PaymentService{
		ledger:     ledger,
		bot:        bot,
		messengers: make(map[string]interfaces.Messenger),
		log:        log.With().Str("component", "payments").Logger(),
	}
}

// RegisterMessenger sets the transport used to announce payments to users
// of platform.
func (s *PaymentService) RegisterMessenger(platform string, m interfaces.Messenger) {
	s.messengers[platform] = m
}

// Confirm records ev and, when it granted anything, notifies the user. A
// replayed charge returns PaymentAlreadyProcessed without a notification.
func (s *PaymentService) Confirm(ctx context.Context, ev entities.PaymentEvent) (PaymentResult, error) {
	ev.Currency = strings.ToUpper(strings.TrimSpace(ev.Currency))
	if want := s.bot.Premium.Currency; ev.Provider != "manual" && want != "" && ev.Currency != "" && ev.Currency != want {
		return PaymentResult{}, fmt.Errorf("%w: currency %s, expected %s", entities.ErrInvalidPayment, ev.Currency, want)
	}

	res, err := s.ledger.ConfirmPayment(ctx, ev)
	if err != nil {
		s.log.Error().Err(err).Str("charge_id", ev.ChargeID).Str("provider", ev.Provider).Msg("payment not applied")
		return res, err
	}
	if res.Status == PaymentAlreadyProcessed {
		return res, nil
	}

	s.notify(ev, fmt.Sprintf(s.bot.Messages.PremiumActivated, formatDate(res.ExpiresAt)))
	return res, nil
}

// HandleTelegramPayment is the Telegram poller's OnPayment hook.
func (s *PaymentService) HandleTelegramPayment(ctx context.Context, ev entities.PaymentEvent) {
	if _, err := s.Confirm(ctx, ev); err != nil && !errors.Is(err, entities.ErrInvalidPayment) {
		s.notify(ev, s.bot.Messages.TryLater)
	}
}

// ApproveCheckout answers Telegram pre-checkout queries. Only invoices this
// bot issued carry the expected payload.
func (s *PaymentService) ApproveCheckout(ctx context.Context, payload string) (bool, string) {
	externalID, ok := strings.CutPrefix(payload, invoicePayloadPrefix)
	if !ok || externalID == "" {
		return false, "Unknown invoice"
	}
	if _, err := s.ledger.EnsureAccount(ctx, externalID, ""); err != nil {
		s.log.Error().Err(err).Str("external_id", externalID).Msg("pre-checkout lookup failed")
		return false, "Payments are temporarily unavailable, please try again later"
	}
	return true, ""
}

func (s *PaymentService) notify(ev entities.PaymentEvent, text string) {
	platform, to := entities.SplitAccountKey(ev.ExternalID)
	m, ok := s.messengers[platform]
	if !ok {
		return
	}
	if err := m.SendMessage(to, text); err != nil {
		s.log.Warn().Err(err).Str("external_id", ev.ExternalID).Msg("payment notification failed")
	}
}

// PaymentLink tags base with the user's external id so the checkout
// webhook can map the charge back to the account.
func PaymentLink(base, externalID string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("client_reference_id", ClientReference(externalID))
	u.RawQuery = q.Encode()
	return u.String()
}

// ClientReference encodes an account key into the characters Stripe keeps
// in client_reference_id: letters, digits, '-' and '_'. Telegram chat ids
// already fit and pass through unchanged.
func ClientReference(externalID string) string {
	if isChatID(externalID) {
		return externalID
	}
	return clientReferencePrefix + base64.RawURLEncoding.EncodeToString([]byte(externalID))
}

// AccountFromReference reverses ClientReference.
func AccountFromReference(ref string) (string, error) {
	encoded, ok := strings.CutPrefix(ref, clientReferencePrefix)
	if !ok {
		if !isChatID(ref) {
			return "", fmt.Errorf("%w: unrecognised client reference %q", entities.ErrInvalidPayment, ref)
		}
		return ref, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("%w: malformed client reference %q", entities.ErrInvalidPayment, ref)
	}
	return string(raw), nil
}

func isChatID(s string) bool {
	digits := strings.TrimPrefix(s, "-")
	if digits == "" {
		return false
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
