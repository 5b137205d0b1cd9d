package entities

import (
	"strings"
	"time"
)

type Message struct {
	ID          string
	From        string // external identity, e.g. telegram chat id
	DisplayName string
	Content     string
	Platform    string // "telegram", "whatsapp", "web"
	IsCallback  bool   // Whether this is from a button callback
	Timestamp   time.Time
}

// Response is a transport-neutral reply. Transports that cannot render
// buttons, photos or invoices send Content alone.
type Response struct {
	Content string
	Buttons []Button
	Photo   []byte        // PNG
	Invoice *PremiumOffer // native invoice, Content is the fallback
}

// PaymentEvent is a provider-confirmed charge delivered into the ledger.
type PaymentEvent struct {
	ExternalID string
	Amount     int64
	Currency   string
	ChargeID   string
	Provider   string // "telegram", "stripe", "manual"
	Timestamp  time.Time
}

// Button is a transport-neutral inline button.
type Button struct {
	Label string
	Data  string
}

// PremiumOffer describes what /buy_premium sells.
type PremiumOffer struct {
	Title       string
	Description string
	Payload     string // echoed back by the provider, carries the external id
	Currency    string
	Amount      int64 // minor units
	URL         string
}

// AccountKey is the ledger identity for the sender. Telegram chat ids are
// used as is; other platforms are prefixed so ids from different
// transports never collide.
func (m Message) AccountKey() string {
	if m.Platform == "" || m.Platform == "telegram" {
		return m.From
	}
	return m.Platform + ":" + m.From
}

// SplitAccountKey reverses AccountKey into platform and recipient.
func SplitAccountKey(key string) (platform, to string) {
	if p, rest, ok := strings.Cut(key, ":"); ok {
		return p, rest
	}
	return "telegram", key
}
