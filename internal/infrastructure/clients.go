package infrastructure

import (
	"errors"
	"fmt"
	"strconv"

	"soulbot/internal/entities"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

var ErrPaymentsDisabled = errors.New("telegram payments not configured")

type TelegramClient struct {
	Bot          *tgbotapi.BotAPI
	paymentToken string
	log          zerolog.Logger
}

func NewTelegramClient(token, paymentToken string, log zerolog.Logger) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot token: %w", err)
	}
	log.Info().Str("bot", bot.Self.UserName).Msg("telegram bot authorized")
	return &TelegramClient{Bot: bot, paymentToken: paymentToken, log: log}, nil
}

func (t *TelegramClient) SendMessage(to, content string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	msg := tgbotapi.NewMessage(chatID, content)
	_, err = t.Bot.Send(msg)
	return err
}

// SendMessageWithMenu sends message with inline keyboard menu
func (t *TelegramClient) SendMessageWithMenu(to, content string, buttons []entities.Button) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	msg := tgbotapi.NewMessage(chatID, content)
	if len(buttons) > 0 {
		msg.ReplyMarkup = KeyboardFromButtons(buttons)
	}
	_, err = t.Bot.Send(msg)
	return err
}

func (t *TelegramClient) SendPhoto(to string, png []byte, caption string) error {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "payment.png", Bytes: png})
	photo.Caption = caption
	_, err = t.Bot.Send(photo)
	return err
}

// SendInvoice sends a native Telegram invoice. Requires a payment provider token.
func (t *TelegramClient) SendInvoice(to string, offer entities.PremiumOffer) error {
	if t.paymentToken == "" {
		return ErrPaymentsDisabled
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	prices := []tgbotapi.LabeledPrice{{Label: offer.Title, Amount: int(offer.Amount)}}
	invoice := tgbotapi.NewInvoice(chatID, offer.Title, offer.Description, offer.Payload,
		t.paymentToken, "premium", offer.Currency, prices)
	invoice.SuggestedTipAmounts = []int{}
	_, err = t.Bot.Send(invoice)
	return err
}

// AnswerPreCheckout approves or rejects a pending checkout
func (t *TelegramClient) AnswerPreCheckout(queryID string, ok bool, reason string) error {
	_, err := t.Bot.Request(tgbotapi.PreCheckoutConfig{
		PreCheckoutQueryID: queryID,
		OK:                 ok,
		ErrorMessage:       reason,
	})
	return err
}

// AnswerCallback stops the loading spinner on a pressed button
func (t *TelegramClient) AnswerCallback(callbackID, text string) {
	if _, err := t.Bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		t.log.Debug().Err(err).Msg("answer callback")
	}
}

// KeyboardFromButtons lays buttons out two per row
func KeyboardFromButtons(buttons []entities.Button) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton

	for i, b := range buttons {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(b.Label, b.Data))
		if (i+1)%2 == 0 {
			rows = append(rows, row)
			row = []tgbotapi.InlineKeyboardButton{}
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}

	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
