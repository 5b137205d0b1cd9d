package entities

import "time"

// DailyUsage counts answered messages per calendar day (UTC).
type DailyUsage struct {
	Date     time.Time `json:"date"`
	Messages int       `json:"messages"`
}
