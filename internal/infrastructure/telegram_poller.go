package infrastructure

import (
	"context"
	"strconv"
	"sync"
	"time"

	"soulbot/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramHandlers receives updates converted to domain values.
type TelegramHandlers struct {
	OnMessage  func(ctx context.Context, msg entities.Message)
	OnCallback func(ctx context.Context, msg entities.Message)
	OnPayment  func(ctx context.Context, ev entities.PaymentEvent)
	// ApproveCheckout decides pre-checkout queries by invoice payload.
	ApproveCheckout func(ctx context.Context, payload string) (bool, string)
}

// TelegramPoller runs the long-polling update loop
type TelegramPoller struct {
	client   *TelegramClient
	handlers TelegramHandlers
	sessions *SessionManager
	log      zerolog.Logger

	stopped  chan struct{}
	inflight sync.WaitGroup
}

func NewTelegramPoller(client *TelegramClient, sessions *SessionManager, handlers TelegramHandlers, log zerolog.Logger) *TelegramPoller {
	return &TelegramPoller{
		client:   client,
		handlers: handlers,
		sessions: sessions,
		log:      log.With().Str("component", "telegram").Logger(),
		stopped:  make(chan struct{}),
	}
}

// Run polls until ctx is cancelled. Handlers still running afterwards are
// tracked; call Wait before closing what they use.
func (p *TelegramPoller) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := p.client.Bot.GetUpdatesChan(u)

	p.log.Info().Str("bot", p.client.Bot.Self.UserName).Msg("started polling")
	p.serve(ctx, updates)
	p.client.Bot.StopReceivingUpdates()
	p.log.Info().Msg("stopped polling")
}

// Wait blocks until the update loop has stopped and every dispatched update
// has been handled.
func (p *TelegramPoller) Wait() {
	<-p.stopped
	p.inflight.Wait()
}

func (p *TelegramPoller) serve(ctx context.Context, updates tgbotapi.UpdatesChannel) {
	defer close(p.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			p.inflight.Add(1)
			go func() {
				defer p.inflight.Done()
				p.dispatch(ctx, update)
			}()
		}
	}
}

func (p *TelegramPoller) dispatch(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Int("update_id", update.UpdateID).Msg("update handler panicked")
		}
	}()

	switch {
	case update.PreCheckoutQuery != nil:
		p.handlePreCheckout(ctx, update.PreCheckoutQuery)
	case update.Message != nil && update.Message.SuccessfulPayment != nil:
		p.handleSuccessfulPayment(ctx, update.Message)
	case update.Message != nil:
		if p.handlers.OnMessage != nil {
			p.handlers.OnMessage(ctx, messageFromTelegram(update.Message))
		}
	case update.CallbackQuery != nil:
		p.handleCallback(ctx, update.CallbackQuery)
	}
}

func (p *TelegramPoller) handlePreCheckout(ctx context.Context, q *tgbotapi.PreCheckoutQuery) {
	ok, reason := true, ""
	if p.handlers.ApproveCheckout != nil {
		ok, reason = p.handlers.ApproveCheckout(ctx, q.InvoicePayload)
	}
	if err := p.client.AnswerPreCheckout(q.ID, ok, reason); err != nil {
		p.log.Error().Err(err).Str("query_id", q.ID).Msg("answer pre-checkout")
	}
}

func (p *TelegramPoller) handleSuccessfulPayment(ctx context.Context, m *tgbotapi.Message) {
	sp := m.SuccessfulPayment
	ev := entities.PaymentEvent{
		ExternalID: strconv.FormatInt(m.Chat.ID, 10),
		Amount:     int64(sp.TotalAmount),
		Currency:   sp.Currency,
		ChargeID:   sp.TelegramPaymentChargeID,
		Provider:   "telegram",
		Timestamp:  m.Time(),
	}
	p.log.Info().Str("external_id", ev.ExternalID).Str("charge_id", ev.ChargeID).Msg("successful payment")
	if p.handlers.OnPayment != nil {
		p.handlers.OnPayment(ctx, ev)
	}
}

func (p *TelegramPoller) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		p.client.AnswerCallback(cb.ID, "")
		return
	}
	chatID := strconv.FormatInt(cb.Message.Chat.ID, 10)

	// Check if click is allowed (debouncing & concurrent request prevention)
	session := p.sessions.GetOrCreateSession(chatID)
	if !session.IsAllowedClick() {
		p.client.AnswerCallback(cb.ID, "Please wait...")
		return
	}
	session.StartProcessing()
	defer session.FinishProcessing()

	p.client.AnswerCallback(cb.ID, "")

	msg := entities.Message{
		ID:         cb.ID,
		From:       chatID,
		Content:    cb.Data,
		Platform:   "telegram",
		IsCallback: true,
		Timestamp:  time.Now().UTC(),
	}
	if cb.From != nil {
		msg.DisplayName = displayName(cb.From)
	}
	if p.handlers.OnCallback != nil {
		p.handlers.OnCallback(ctx, msg)
	}
}

func messageFromTelegram(m *tgbotapi.Message) entities.Message {
	msg := entities.Message{
		ID:        strconv.Itoa(m.MessageID),
		From:      strconv.FormatInt(m.Chat.ID, 10),
		Content:   m.Text,
		Platform:  "telegram",
		Timestamp: m.Time().UTC(),
	}
	if m.From != nil {
		msg.DisplayName = displayName(m.From)
	}
	return msg
}

func displayName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}
