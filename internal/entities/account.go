package entities

import "time"

// UserAccount holds quota and subscription state for one external identity.
type UserAccount struct {
	ID                      string     `json:"id"`
	ExternalID              string     `json:"external_id"`
	DisplayName             string     `json:"display_name"`
	IsPremium               bool       `json:"is_premium"`
	PremiumExpiresAt        *time.Time `json:"premium_expires_at,omitempty"`
	FreeCreditsRemaining    int        `json:"free_credits_remaining"`
	FreeResetAt             time.Time  `json:"free_reset_at"`
	PremiumCreditsRemaining int        `json:"premium_credits_remaining"`
	PremiumResetAt          *time.Time `json:"premium_reset_at,omitempty"`
	LastInteractionAt       *time.Time `json:"last_interaction_at,omitempty"`
	CreatedAt               time.Time  `json:"created_at"`
}

// PremiumActive reports whether the paid entitlement covers now.
// The IsPremium flag alone is not enough: it is never cleared on expiry.
func (a *UserAccount) PremiumActive(now time.Time) bool {
	return a.IsPremium && a.PremiumExpiresAt != nil && !now.After(*a.PremiumExpiresAt)
}

// PremiumLapsed reports a flagged entitlement whose period has passed.
func (a *UserAccount) PremiumLapsed(now time.Time) bool {
	return a.IsPremium && a.PremiumExpiresAt != nil && now.After(*a.PremiumExpiresAt)
}

// Clone returns a deep copy so callers can't alias the stored time pointers.
func (a *UserAccount) Clone() *UserAccount {
	c := *a
	c.PremiumExpiresAt = cloneTime(a.PremiumExpiresAt)
	c.PremiumResetAt = cloneTime(a.PremiumResetAt)
	c.LastInteractionAt = cloneTime(a.LastInteractionAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

type UnlockedPersona struct {
	AccountID   string    `json:"account_id"`
	PersonaName string    `json:"persona_name"`
	UnlockedAt  time.Time `json:"unlocked_at"`
}

// PaymentRecord is written once per confirmed external charge.
type PaymentRecord struct {
	ID        string    `json:"id"`
	AccountID string    `json:"account_id"`
	Amount    int64     `json:"amount"` // minor units
	Currency  string    `json:"currency"`
	ChargeID  string    `json:"charge_id"`
	Provider  string    `json:"provider"`
	CreatedAt time.Time `json:"created_at"`
}

type InteractionLog struct {
	AccountID  string    `json:"account_id"`
	InputText  string    `json:"input_text"`
	OutputText string    `json:"output_text"`
	Persona    string    `json:"persona"`
	CreatedAt  time.Time `json:"created_at"`
}
