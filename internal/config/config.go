// Package config loads process settings from the environment and the bot
// content (personas, texts, quota, premium offer) from a YAML or JSON file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"soulbot/internal/entities"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config holds everything read from the environment.
type Config struct {
	AppEnv   string
	HTTPAddr string

	StorageDriver string
	DatabaseURL   string
	SQLitePath    string

	TelegramToken        string
	TelegramPaymentToken string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	JWTSecret         string
	AdminUsername     string
	AdminPasswordHash string

	StripeWebhookSecret string
	PaymentURL          string

	WhatsAppEnabled bool
	WhatsAppDBPath  string

	BotConfigPath     string
	GenerationTimeout time.Duration
}

// Load reads .env when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

func FromEnv() (*Config, error) {
	cfg := &Config{
		AppEnv:               getenv("APP_ENV", "production"),
		HTTPAddr:             getenv("HTTP_ADDR", ":8080"),
		StorageDriver:        strings.ToLower(getenv("STORAGE_DRIVER", DriverSQLite)),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		SQLitePath:           getenv("SQLITE_PATH", "soulbot.db"),
		TelegramToken:        os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramPaymentToken: os.Getenv("TELEGRAM_PAYMENT_TOKEN"),
		OpenAIKey:            os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:          os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL:        os.Getenv("OPENAI_BASE_URL"),
		JWTSecret:            os.Getenv("JWT_SECRET"),
		AdminUsername:        getenv("ADMIN_USERNAME", "root"),
		AdminPasswordHash:    os.Getenv("ADMIN_PASSWORD_HASH"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		PaymentURL:           os.Getenv("PAYMENT_URL"),
		WhatsAppDBPath:       getenv("WHATSAPP_DB_PATH", "whatsapp.db"),
		BotConfigPath:        getenv("BOT_CONFIG_PATH", "config.yaml"),
		GenerationTimeout:    30 * time.Second,
	}

	if v := os.Getenv("WHATSAPP_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return nil, fmt.Errorf("WHATSAPP_ENABLED: %w", err)
		}
		cfg.WhatsAppEnabled = enabled
	}
	if v := os.Getenv("GENERATION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("GENERATION_TIMEOUT: %w", err)
		}
		cfg.GenerationTimeout = d
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres driver")
		}
	case DriverSQLite:
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite driver")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.GenerationTimeout <= 0 {
		return errors.New("GENERATION_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// Persona is one character the bot can speak as.
type Persona struct {
	Name   string `yaml:"name" json:"name"`
	Prompt string `yaml:"prompt" json:"prompt"`
	// Hidden personas are only reachable through /souls and must be
	// unlocked first.
	Hidden bool `yaml:"hidden" json:"hidden"`
	// Responses, when set, replaces generation with a random pick.
	Responses []string `yaml:"responses,omitempty" json:"responses,omitempty"`
}

type Premium struct {
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Price       int64  `yaml:"price" json:"price"` // minor units
	Currency    string `yaml:"currency" json:"currency"`
}

// Messages are the user-facing texts. ModeSwitched and SoulUnlocked take
// the persona name, DailyLimit and SlowDown the time left, BuyPremium the
// payment link, AlreadyPremium and PremiumActivated the expiry date.
type Messages struct {
	Start            string `yaml:"start" json:"start"`
	ModeSwitched     string `yaml:"modeSwitched" json:"modeSwitched"`
	SoulPrompt       string `yaml:"soulPrompt" json:"soulPrompt"`
	SoulUnlocked     string `yaml:"soulUnlocked" json:"soulUnlocked"`
	UnknownSoul      string `yaml:"unknownSoul" json:"unknownSoul"`
	FreeExhausted    string `yaml:"freeExhausted" json:"freeExhausted"`
	PremiumRenewal   string `yaml:"premiumRenewal" json:"premiumRenewal"`
	DailyLimit       string `yaml:"dailyLimit" json:"dailyLimit"`
	TryLater         string `yaml:"tryLater" json:"tryLater"`
	Apology          string `yaml:"apology" json:"apology"`
	AlreadyPremium   string `yaml:"alreadyPremium" json:"alreadyPremium"`
	BuyPremium       string `yaml:"buyPremium" json:"buyPremium"`
	PremiumActivated string `yaml:"premiumActivated" json:"premiumActivated"`
	SlowDown         string `yaml:"slowDown" json:"slowDown"`
}

// BotConfig is the content file.
type BotConfig struct {
	DefaultPersona string               `yaml:"defaultPersona" json:"defaultPersona"`
	Quota          entities.QuotaPolicy `yaml:"quota" json:"quota"`
	Premium        Premium              `yaml:"premium" json:"premium"`
	Characters     map[string]Persona   `yaml:"characters" json:"characters"`
	Messages       Messages             `yaml:"messages" json:"messages"`
}

// LoadBotConfig parses path. JSON files go through the same decoder since
// YAML is a superset of JSON. Missing fields fall back to defaults.
func LoadBotConfig(path string) (*BotConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bot config %s: %w", path, err)
	}
	return ParseBotConfig(data)
}

func ParseBotConfig(data []byte) (*BotConfig, error) {
	cfg := DefaultBotConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing bot config: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects quota values that would make the ledger misbehave and a
// default persona that does not exist.
func (c *BotConfig) Validate() error {
	q := c.Quota
	switch {
	case q.FreeAllotment <= 0:
		return entities.ValidationError{Field: "quota.freeAllotment", Message: "must be positive"}
	case q.FreePeriodDays <= 0:
		return entities.ValidationError{Field: "quota.freePeriodDays", Message: "must be positive"}
	case q.PremiumAllotment <= 0:
		return entities.ValidationError{Field: "quota.premiumAllotment", Message: "must be positive"}
	case q.PremiumPeriodHours <= 0:
		return entities.ValidationError{Field: "quota.premiumPeriodHours", Message: "must be positive"}
	case q.PremiumExtensionDays <= 0:
		return entities.ValidationError{Field: "quota.premiumExtensionDays", Message: "must be positive"}
	}

	if len(c.Characters) == 0 {
		return entities.ValidationError{Field: "characters", Message: "at least one persona is required"}
	}
	def, ok := c.Characters[c.DefaultPersona]
	if !ok {
		return entities.ValidationError{Field: "defaultPersona", Message: fmt.Sprintf("%q is not a configured character", c.DefaultPersona)}
	}
	if def.Hidden {
		return entities.ValidationError{Field: "defaultPersona", Message: "cannot be hidden"}
	}
	for key, p := range c.Characters {
		if p.Prompt == "" && len(p.Responses) == 0 {
			return entities.ValidationError{Field: "characters." + key, Message: "needs a prompt or responses"}
		}
	}
	if c.Premium.Price <= 0 || c.Premium.Currency == "" {
		return entities.ValidationError{Field: "premium", Message: "price and currency are required"}
	}
	return nil
}

// Persona looks a character up by key, case-insensitively.
func (c *BotConfig) Persona(key string) (Persona, bool) {
	p, ok := c.Characters[strings.ToLower(strings.TrimSpace(key))]
	return p, ok
}

// Offer builds the premium offer for one user.
func (c *BotConfig) Offer(externalID, paymentURL string) entities.PremiumOffer {
	return entities.PremiumOffer{
		Title:       c.Premium.Title,
		Description: c.Premium.Description,
		Payload:     "premium:" + externalID,
		Currency:    c.Premium.Currency,
		Amount:      c.Premium.Price,
		URL:         paymentURL,
	}
}

func (c *BotConfig) normalize() {
	if len(c.Characters) == 0 {
		return
	}
	chars := make(map[string]Persona, len(c.Characters))
	for key, p := range c.Characters {
		key = strings.ToLower(strings.TrimSpace(key))
		if p.Name == "" {
			p.Name = key
		}
		chars[key] = p
	}
	c.Characters = chars
	c.DefaultPersona = strings.ToLower(strings.TrimSpace(c.DefaultPersona))
	c.Premium.Currency = strings.ToUpper(c.Premium.Currency)
}

func DefaultBotConfig() *BotConfig {
	return &BotConfig{
		DefaultPersona: "oracle",
		Quota:          entities.DefaultQuotaPolicy(),
		Premium: Premium{
			Title:       "Premium",
			Description: "30 days of premium answers",
			Price:       29900,
			Currency:    "RUB",
		},
		Messages: Messages{
			Start:            "Hi! Ask me anything. Use /souls to meet other characters.",
			ModeSwitched:     "You are now talking to %s.",
			SoulPrompt:       "Type the name of the soul you want to talk to.",
			SoulUnlocked:     "You unlocked %s! You are now talking to them.",
			UnknownSoul:      "There is no such soul. Please pick an existing one.",
			FreeExhausted:    "You have used all your free answers. Get premium: /buy_premium",
			PremiumRenewal:   "Your premium has expired. Renew it to keep talking: /buy_premium",
			DailyLimit:       "You have reached today's premium limit. Try again in %s.",
			TryLater:         "Something went wrong on our side. Please try again later.",
			Apology:          "Sorry, I could not answer that. Please try again later.",
			AlreadyPremium:   "You already have premium until %s.",
			BuyPremium:       "To get premium, follow the link: %s",
			PremiumActivated: "Premium is active until %s. Enjoy!",
			SlowDown:         "You are sending messages too fast. Try again in %s.",
		},
	}
}
