package entities

import "time"

// QuotaPolicy carries the allotment sizes and period lengths of both pools.
type QuotaPolicy struct {
	FreeAllotment        int `yaml:"freeAllotment" json:"freeAllotment"`
	FreePeriodDays       int `yaml:"freePeriodDays" json:"freePeriodDays"`
	PremiumAllotment     int `yaml:"premiumAllotment" json:"premiumAllotment"`
	PremiumPeriodHours   int `yaml:"premiumPeriodHours" json:"premiumPeriodHours"`
	PremiumExtensionDays int `yaml:"premiumExtensionDays" json:"premiumExtensionDays"`
}

func DefaultQuotaPolicy() QuotaPolicy {
	return QuotaPolicy{
		FreeAllotment:        3,
		FreePeriodDays:       30,
		PremiumAllotment:     20,
		PremiumPeriodHours:   24,
		PremiumExtensionDays: 30,
	}
}

func (p QuotaPolicy) FreePeriod() time.Duration {
	return time.Duration(p.FreePeriodDays) * 24 * time.Hour
}

func (p QuotaPolicy) PremiumPeriod() time.Duration {
	return time.Duration(p.PremiumPeriodHours) * time.Hour
}

func (p QuotaPolicy) ExtensionPeriod() time.Duration {
	return Days(p.PremiumExtensionDays)
}

func Days(n int) time.Duration {
	return time.Duration(n) * 24 * time.Hour
}
