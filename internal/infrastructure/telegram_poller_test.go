package infrastructure

import (
	"context"
	"testing"
	"time"

	"soulbot/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

func TestKeyboardFromButtons(t *testing.T) {
	kb := KeyboardFromButtons([]entities.Button{
		{Label: "Oracle", Data: "persona:oracle"},
		{Label: "Magic ball", Data: "persona:magicball"},
		{Label: "Premium", Data: "buy_premium"},
	})
	if len(kb.InlineKeyboard) != 2 || len(kb.InlineKeyboard[0]) != 2 || len(kb.InlineKeyboard[1]) != 1 {
		t.Fatalf("unexpected layout: %+v", kb.InlineKeyboard)
	}
	if got := *kb.InlineKeyboard[1][0].CallbackData; got != "buy_premium" {
		t.Fatalf("callback data = %q", got)
	}
}

func TestDispatchRoutesUpdates(t *testing.T) {
	var gotMsg entities.Message
	var gotPayment entities.PaymentEvent
	p := NewTelegramPoller(nil, NewSessionManager("oracle"), TelegramHandlers{
		OnMessage: func(ctx context.Context, msg entities.Message) { gotMsg = msg },
		OnPayment: func(ctx context.Context, ev entities.PaymentEvent) { gotPayment = ev },
	}, zerolog.Nop())

	p.dispatch(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 7,
		Date:      1700000000,
		Chat:      &tgbotapi.Chat{ID: 42},
		From:      &tgbotapi.User{FirstName: "Ann"},
		Text:      "hello",
	}})
	if gotMsg.From != "42" || gotMsg.Content != "hello" || gotMsg.DisplayName != "Ann" || gotMsg.Platform != "telegram" {
		t.Fatalf("message = %+v", gotMsg)
	}
	if gotMsg.AccountKey() != "42" {
		t.Fatalf("account key = %q", gotMsg.AccountKey())
	}

	p.dispatch(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		Date: 1700000000,
		Chat: &tgbotapi.Chat{ID: 42},
		SuccessfulPayment: &tgbotapi.SuccessfulPayment{
			Currency:                "RUB",
			TotalAmount:             29900,
			InvoicePayload:          "premium:42",
			TelegramPaymentChargeID: "tg-charge-1",
		},
	}})
	if gotPayment.ExternalID != "42" || gotPayment.ChargeID != "tg-charge-1" || gotPayment.Amount != 29900 || gotPayment.Provider != "telegram" {
		t.Fatalf("payment = %+v", gotPayment)
	}
}

func TestDisplayNamePrefersUsername(t *testing.T) {
	if got := displayName(&tgbotapi.User{UserName: "ann_b", FirstName: "Ann"}); got != "ann_b" {
		t.Fatalf("display name = %q", got)
	}
}

func TestWaitDrainsDispatchedUpdates(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	p := NewTelegramPoller(nil, NewSessionManager("oracle"), TelegramHandlers{
		OnMessage: func(ctx context.Context, msg entities.Message) {
			close(started)
			<-release
		},
	}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	updates := make(chan tgbotapi.Update, 1)
	updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		Date: 1700000000,
		Chat: &tgbotapi.Chat{ID: 42},
		From: &tgbotapi.User{FirstName: "Ann"},
		Text: "hello",
	}}
	served := make(chan struct{})
	go func() {
		p.serve(ctx, updates)
		close(served)
	}()

	<-started
	cancel()
	<-served

	waited := make(chan struct{})
	go func() {
		p.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		t.Fatal("Wait returned while a handler was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case <-waited:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the handler finished")
	}
}
