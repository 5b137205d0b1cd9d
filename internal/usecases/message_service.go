package usecases

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sort"
	"strings"
	"time"

	"soulbot/internal/config"
	"soulbot/internal/entities"
	"soulbot/internal/infrastructure"
	"soulbot/internal/interfaces"

	"github.com/rs/zerolog"
)

const (
	callbackPersona    = "persona:"
	callbackBuyPremium = "buy_premium"
	callbackSouls      = "souls"
)

// MessageService routes inbound chat messages: commands and persona
// selection are handled locally, everything else is metered by the ledger
// and answered by the active persona.
type MessageService struct {
	ledger     *EntitlementLedger
	ai         interfaces.AIClient
	bot        *config.BotConfig
	sessions   *infrastructure.SessionManager
	limiter    *infrastructure.MessageRateLimiter
	messengers map[string]interfaces.Messenger
	log        zerolog.Logger

	PaymentURL        string
	GenerationTimeout time.Duration
	// InvoicesEnabled offers a native invoice before the payment link.
	InvoicesEnabled bool

	pick func(n int) int
	qr   func(link string) ([]byte, error)
}

func NewMessageService(
	ledger *EntitlementLedger,
	ai interfaces.AIClient,
	bot *config.BotConfig,
	sessions *infrastructure.SessionManager,
	limiter *infrastructure.MessageRateLimiter,
	log zerolog.Logger,
) *MessageService {
	return &MessageService{
		ledger:            ledger,
		ai:                ai,
		bot:               bot,
		sessions:          sessions,
		limiter:           limiter,
		messengers:        make(map[string]interfaces.Messenger),
		log:               log.With().Str("component", "messages").Logger(),
		GenerationTimeout: 30 * time.Second,
		pick:              rand.IntN,
		qr:                infrastructure.PaymentQR,
	}
}

// RegisterMessenger sets the transport used to reply on platform.
func (s *MessageService) RegisterMessenger(platform string, m interfaces.Messenger) {
	s.messengers[platform] = m
}

// LimiterStats reports the flood limiter state, or nil when none is set.
func (s *MessageService) LimiterStats() map[string]interface{} {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.GetStats()
}

// ProcessMessage handles msg and delivers the reply on msg's platform.
func (s *MessageService) ProcessMessage(ctx context.Context, msg entities.Message) error {
	resp := s.HandleMessage(ctx, msg)
	if resp == nil {
		return nil
	}
	return s.deliver(msg, resp)
}

// Handle is the fire-and-forget form used by the transports.
func (s *MessageService) Handle(ctx context.Context, msg entities.Message) {
	if err := s.ProcessMessage(ctx, msg); err != nil {
		s.log.Error().Err(err).Str("platform", msg.Platform).Str("from", msg.From).Msg("reply not delivered")
	}
}

// HandleMessage computes the reply for msg without sending it. A nil
// response means there is nothing to say.
func (s *MessageService) HandleMessage(ctx context.Context, msg entities.Message) *entities.Response {
	content := strings.TrimSpace(SanitizeString(msg.Content))
	if content == "" || msg.From == "" {
		return nil
	}

	if msg.IsCallback {
		return s.handleCallback(ctx, msg, content)
	}
	if strings.HasPrefix(content, "/") {
		return s.handleCommand(ctx, msg, content)
	}

	session := s.sessions.GetOrCreateSession(msg.AccountKey())
	if session.TakeSoulSelection() {
		return s.selectSoul(ctx, msg, content)
	}

	return s.answer(ctx, msg, TruncateString(content, MaxInputLength))
}

func (s *MessageService) handleCommand(ctx context.Context, msg entities.Message, content string) *entities.Response {
	cmd := strings.ToLower(strings.Fields(content)[0])
	cmd = strings.TrimPrefix(cmd, "/")
	// Telegram appends the bot name in group chats: /start@soul_bot
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "start":
		return &entities.Response{Content: s.bot.Messages.Start, Buttons: s.personaButtons()}
	case "souls":
		s.sessions.GetOrCreateSession(msg.AccountKey()).BeginSoulSelection()
		return &entities.Response{Content: s.bot.Messages.SoulPrompt}
	case "buy_premium":
		return s.buyPremium(ctx, msg)
	case "status":
		return s.status(ctx, msg)
	}

	if _, ok := s.bot.Persona(cmd); ok {
		return s.switchPersona(ctx, msg, cmd)
	}
	return &entities.Response{Content: s.bot.Messages.UnknownSoul}
}

func (s *MessageService) handleCallback(ctx context.Context, msg entities.Message, data string) *entities.Response {
	switch {
	case data == callbackBuyPremium:
		return s.buyPremium(ctx, msg)
	case data == callbackSouls:
		s.sessions.GetOrCreateSession(msg.AccountKey()).BeginSoulSelection()
		return &entities.Response{Content: s.bot.Messages.SoulPrompt}
	case strings.HasPrefix(data, callbackPersona):
		return s.switchPersona(ctx, msg, strings.TrimPrefix(data, callbackPersona))
	}
	s.log.Debug().Str("data", data).Msg("unknown callback")
	return nil
}

// switchPersona changes the active persona. Hidden personas must have been
// unlocked through /souls first.
func (s *MessageService) switchPersona(ctx context.Context, msg entities.Message, key string) *entities.Response {
	key = strings.ToLower(key)
	p, ok := s.bot.Persona(key)
	if !ok {
		return &entities.Response{Content: s.bot.Messages.UnknownSoul}
	}
	if p.Hidden {
		unlocked, err := s.ledger.UnlockedPersonas(ctx, msg.AccountKey())
		if err != nil {
			return &entities.Response{Content: s.bot.Messages.TryLater}
		}
		if !slices.Contains(unlocked, key) {
			return &entities.Response{Content: s.bot.Messages.UnknownSoul}
		}
	}

	s.sessions.GetOrCreateSession(msg.AccountKey()).SwitchPersona(key)
	s.log.Info().Str("account", msg.AccountKey()).Str("persona", key).Msg("persona switched")
	return &entities.Response{Content: fmt.Sprintf(s.bot.Messages.ModeSwitched, p.Name)}
}

// selectSoul resolves the text typed after /souls, unlocking the persona
// on first use.
func (s *MessageService) selectSoul(ctx context.Context, msg entities.Message, content string) *entities.Response {
	key, p, ok := s.findPersona(content)
	if !ok {
		return &entities.Response{Content: s.bot.Messages.UnknownSoul}
	}

	newlyUnlocked, err := s.ledger.UnlockPersona(ctx, msg.AccountKey(), key)
	if err != nil {
		s.log.Error().Err(err).Str("account", msg.AccountKey()).Str("persona", key).Msg("unlock failed")
		return &entities.Response{Content: s.bot.Messages.TryLater}
	}

	s.sessions.GetOrCreateSession(msg.AccountKey()).SwitchPersona(key)
	if newlyUnlocked {
		s.log.Info().Str("account", msg.AccountKey()).Str("persona", key).Msg("persona unlocked")
		return &entities.Response{Content: fmt.Sprintf(s.bot.Messages.SoulUnlocked, p.Name)}
	}
	return &entities.Response{Content: fmt.Sprintf(s.bot.Messages.ModeSwitched, p.Name)}
}

// answer meters one question and produces the persona's reply.
func (s *MessageService) answer(ctx context.Context, msg entities.Message, input string) *entities.Response {
	if s.limiter != nil && !s.limiter.Allow(msg.AccountKey()) {
		wait := s.limiter.WaitTime(msg.AccountKey())
		return &entities.Response{Content: fmt.Sprintf(s.bot.Messages.SlowDown, formatWait(wait))}
	}

	d, err := s.ledger.Consume(ctx, msg.AccountKey(), msg.DisplayName)
	if err != nil || !d.Allowed {
		return s.refusal(d)
	}

	personaKey := s.sessions.GetOrCreateSession(msg.AccountKey()).CurrentPersona()
	p, ok := s.bot.Persona(personaKey)
	if !ok {
		personaKey = s.bot.DefaultPersona
		p, _ = s.bot.Persona(personaKey)
	}

	var reply string
	if len(p.Responses) > 0 {
		reply = p.Responses[s.pick(len(p.Responses))]
	} else {
		// The credit stays spent on failure and the request is not retried
		genCtx, cancel := context.WithTimeout(ctx, s.GenerationTimeout)
		reply, err = s.ai.GenerateResponse(genCtx, p.Prompt, input)
		cancel()
		if err != nil {
			s.log.Error().Err(err).Str("account", msg.AccountKey()).Str("persona", personaKey).Msg("generation failed")
			return &entities.Response{Content: s.bot.Messages.Apology}
		}
	}

	s.ledger.RecordInteraction(ctx, d.AccountID, input, reply, personaKey)
	return &entities.Response{Content: reply}
}

func (s *MessageService) refusal(d Decision) *entities.Response {
	m := s.bot.Messages
	switch d.Reason {
	case ReasonFreeExhausted:
		resp := &entities.Response{Content: m.FreeExhausted, Buttons: []entities.Button{{Label: "Buy premium", Data: callbackBuyPremium}}}
		if d.PremiumLapsed {
			resp.Content = m.PremiumRenewal
		}
		return resp
	case ReasonPremiumExhausted:
		return &entities.Response{Content: fmt.Sprintf(m.DailyLimit, formatWait(d.RetryAfter))}
	default:
		return &entities.Response{Content: m.TryLater}
	}
}

func (s *MessageService) buyPremium(ctx context.Context, msg entities.Message) *entities.Response {
	acc, err := s.ledger.Status(ctx, msg.AccountKey(), msg.DisplayName)
	if err != nil {
		return &entities.Response{Content: s.bot.Messages.TryLater}
	}
	now := s.ledger.now()
	if acc.PremiumActive(now) {
		return &entities.Response{Content: fmt.Sprintf(s.bot.Messages.AlreadyPremium, formatDate(*acc.PremiumExpiresAt))}
	}

	link := PaymentLink(s.PaymentURL, msg.AccountKey())
	resp := &entities.Response{Content: s.bot.Messages.TryLater}
	if link != "" {
		resp.Content = fmt.Sprintf(s.bot.Messages.BuyPremium, link)
		if png, err := s.qr(link); err == nil {
			resp.Photo = png
		} else {
			s.log.Warn().Err(err).Msg("payment qr")
		}
	}
	if s.InvoicesEnabled {
		offer := s.bot.Offer(msg.AccountKey(), link)
		resp.Invoice = &offer
	}
	s.log.Info().Str("account", msg.AccountKey()).Msg("premium offered")
	return resp
}

func (s *MessageService) status(ctx context.Context, msg entities.Message) *entities.Response {
	acc, err := s.ledger.Status(ctx, msg.AccountKey(), msg.DisplayName)
	if err != nil {
		return &entities.Response{Content: s.bot.Messages.TryLater}
	}
	now := s.ledger.now()
	policy := s.ledger.Policy()

	var b strings.Builder
	fmt.Fprintf(&b, "Free answers: %d of %d, refills %s\n", acc.FreeCreditsRemaining, policy.FreeAllotment, formatDate(acc.FreeResetAt))
	switch {
	case acc.PremiumActive(now):
		fmt.Fprintf(&b, "Premium until %s\n", formatDate(*acc.PremiumExpiresAt))
		fmt.Fprintf(&b, "Premium answers today: %d of %d", acc.PremiumCreditsRemaining, policy.PremiumAllotment)
		if acc.PremiumResetAt != nil {
			fmt.Fprintf(&b, ", refills in %s", formatWait(acc.PremiumResetAt.Sub(now)))
		}
	case acc.PremiumLapsed(now):
		b.WriteString("Premium expired. /buy_premium to renew")
	default:
		b.WriteString("No premium. /buy_premium to get more answers")
	}

	if p, ok := s.bot.Persona(s.sessions.GetOrCreateSession(msg.AccountKey()).CurrentPersona()); ok {
		fmt.Fprintf(&b, "\nTalking to: %s", p.Name)
	}
	return &entities.Response{Content: b.String()}
}

func (s *MessageService) personaButtons() []entities.Button {
	keys := make([]string, 0, len(s.bot.Characters))
	for key, p := range s.bot.Characters {
		if !p.Hidden {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	buttons := make([]entities.Button, 0, len(keys)+1)
	for _, key := range keys {
		buttons = append(buttons, entities.Button{Label: s.bot.Characters[key].Name, Data: callbackPersona + key})
	}
	return append(buttons, entities.Button{Label: "Premium", Data: callbackBuyPremium})
}

// findPersona matches typed text against persona keys and display names.
func (s *MessageService) findPersona(text string) (string, config.Persona, bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if p, ok := s.bot.Persona(text); ok {
		return text, p, true
	}
	for key, p := range s.bot.Characters {
		if strings.ToLower(p.Name) == text {
			return key, p, true
		}
	}
	return "", config.Persona{}, false
}

func (s *MessageService) deliver(msg entities.Message, resp *entities.Response) error {
	m, ok := s.messengers[msg.Platform]
	if !ok {
		return fmt.Errorf("no messenger for platform %q", msg.Platform)
	}
	rich, isRich := m.(interfaces.RichMessenger)
	if !isRich {
		return m.SendMessage(msg.From, resp.Content)
	}

	if resp.Invoice != nil {
		err := rich.SendInvoice(msg.From, *resp.Invoice)
		if err == nil {
			return nil
		}
		if !errors.Is(err, infrastructure.ErrPaymentsDisabled) {
			s.log.Warn().Err(err).Str("from", msg.From).Msg("invoice failed, sending link")
		}
	}
	if len(resp.Photo) > 0 {
		err := rich.SendPhoto(msg.From, resp.Photo, resp.Content)
		if err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("from", msg.From).Msg("photo failed, sending text")
	}
	if len(resp.Buttons) > 0 {
		return rich.SendMessageWithMenu(msg.From, resp.Content, resp.Buttons)
	}
	return rich.SendMessage(msg.From, resp.Content)
}
