package interfaces

import (
	"context"
	"time"

	"soulbot/internal/entities"
)

type AIClient interface {
	GenerateResponse(ctx context.Context, personaPrompt, userText string) (string, error)
}

type Messenger interface {
	SendMessage(to, content string) error
}

// RichMessenger is implemented by transports that can render buttons,
// images and native invoices. Callers fall back to plain text otherwise.
type RichMessenger interface {
	Messenger
	SendMessageWithMenu(to, content string, buttons []entities.Button) error
	SendPhoto(to string, png []byte, caption string) error
	SendInvoice(to string, offer entities.PremiumOffer) error
}

// AccountStore persists ledger state. Implementations must serialize
// MutateAccount calls for the same external id.
type AccountStore interface {
	// CreateAccount inserts acc unless an account with the same external id
	// exists, and returns whichever account is stored.
	CreateAccount(ctx context.Context, acc *entities.UserAccount) (*entities.UserAccount, error)
	GetAccount(ctx context.Context, externalID string) (*entities.UserAccount, error)
	// MutateAccount runs fn against the locked account. Changes fn makes to
	// tx.Account() are saved when fn returns nil; anything else rolls back.
	MutateAccount(ctx context.Context, externalID string, fn func(tx AccountTx) error) error
	UnlockedPersonas(ctx context.Context, accountID string) ([]string, error)
	LogInteraction(ctx context.Context, entry entities.InteractionLog) error
	Close() error
}

// AccountTx is the view of one locked account inside MutateAccount.
type AccountTx interface {
	Account() *entities.UserAccount
	PaymentExists(ctx context.Context, chargeID string) (bool, error)
	// RecordPayment returns entities.ErrDuplicatePayment when the charge id
	// is already stored.
	RecordPayment(ctx context.Context, rec *entities.PaymentRecord) error
	UnlockPersona(ctx context.Context, personaName string, at time.Time) (bool, error)
}

// UsageReporter reads the interaction log back for the admin API.
type UsageReporter interface {
	UsageHistory(ctx context.Context, accountID string, since time.Time) ([]entities.DailyUsage, error)
}
