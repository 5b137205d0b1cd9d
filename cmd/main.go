package main

import (
	"context"
	"errors"
	nethttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"soulbot/internal/config"
	"soulbot/internal/entities"
	"soulbot/internal/infrastructure"
	"soulbot/internal/interfaces"
	"soulbot/internal/interfaces/http"
	"soulbot/internal/repository"
	"soulbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// logger is not configured yet
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("invalid configuration")
	}
	log := infrastructure.NewLogger(cfg.AppEnv)

	bot, err := config.LoadBotConfig(cfg.BotConfigPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.BotConfigPath).Msg("failed to load bot config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, usage, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.StorageDriver).Msg("failed to open storage")
	}
	defer store.Close()

	ledger := usecases.NewEntitlementLedger(store, bot.Quota, log)

	ai, err := infrastructure.NewOpenAIClient(infrastructure.OpenAIOptions{
		APIKey:  cfg.OpenAIKey,
		Model:   cfg.OpenAIModel,
		BaseURL: cfg.OpenAIBaseURL,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create OpenAI client")
	}

	sessions := infrastructure.NewSessionManager(bot.DefaultPersona)
	limiter := infrastructure.NewMessageRateLimiter(1, 5)
	go limiter.Run(ctx)

	messageService := usecases.NewMessageService(ledger, ai, bot, sessions, limiter, log)
	messageService.PaymentURL = cfg.PaymentURL
	messageService.GenerationTimeout = cfg.GenerationTimeout
	messageService.InvoicesEnabled = cfg.TelegramPaymentToken != ""

	payments := usecases.NewPaymentService(ledger, bot, log)

	// Telegram
	var poller *infrastructure.TelegramPoller
	if cfg.TelegramToken != "" {
		telegramClient, err := infrastructure.NewTelegramClient(cfg.TelegramToken, cfg.TelegramPaymentToken, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Telegram")
		}
		messageService.RegisterMessenger("telegram", telegramClient)
		payments.RegisterMessenger("telegram", telegramClient)

		poller = infrastructure.NewTelegramPoller(telegramClient, sessions, infrastructure.TelegramHandlers{
			OnMessage:       messageService.Handle,
			OnCallback:      messageService.Handle,
			OnPayment:       payments.HandleTelegramPayment,
			ApproveCheckout: payments.ApproveCheckout,
		}, log)
		go poller.Run(ctx)
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, Telegram disabled")
	}

	// WhatsApp
	var whatsapp http.WhatsAppLogin
	var waClient *infrastructure.WhatsAppClient
	var inflight sync.WaitGroup
	if cfg.WhatsAppEnabled {
		waClient, err = infrastructure.NewWhatsAppClient(ctx, cfg.WhatsAppDBPath, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to init WhatsApp")
		}
		waClient.OnMessage = func(ctx context.Context, msg entities.Message) {
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				messageService.Handle(ctx, msg)
			}()
		}
		messageService.RegisterMessenger("whatsapp", waClient)
		payments.RegisterMessenger("whatsapp", waClient)
		if err := waClient.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to connect WhatsApp")
		}
		whatsapp = waClient
	}

	if cfg.AdminPasswordHash == "" || cfg.JWTSecret == "" {
		log.Warn().Msg("ADMIN_PASSWORD_HASH or JWT_SECRET not set, admin API disabled")
	}
	authUsecase := usecases.NewAuthUsecase(cfg.AdminUsername, cfg.AdminPasswordHash, cfg.JWTSecret)
	authMiddleware := http.NewMiddleware(cfg.JWTSecret)
	dashboardUsecase := usecases.NewDashboardUsecase(ledger, payments, usage)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	handler := http.NewHandler(messageService, payments, cfg.PaymentURL, cfg.StripeWebhookSecret, log)
	http.SetupRoutes(r, handler, http.NewAdminHandler(dashboardUsecase, bot, whatsapp), authUsecase, authMiddleware)

	srv := &nethttp.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}

	// drain handlers before the deferred store.Close
	if waClient != nil {
		waClient.Disconnect()
	}
	if poller != nil {
		poller.Wait()
	}
	inflight.Wait()
	log.Info().Msg("stopped")
}

type ledgerStore interface {
	interfaces.AccountStore
	interfaces.UsageReporter
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (interfaces.AccountStore, interfaces.UsageReporter, error) {
	var store ledgerStore
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pg, err := infrastructure.NewPostgresClient(ctx, cfg.DatabaseURL, log)
		if err != nil {
			return nil, nil, err
		}
		store = repository.NewPostgresAccountStore(pg.Pool)
	case config.DriverSQLite:
		s, err := repository.NewSQLiteAccountStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store = s
	default:
		log.Warn().Msg("using in-memory storage, state is lost on restart")
		store = repository.NewMemoryAccountStore()
	}
	log.Info().Str("driver", cfg.StorageDriver).Msg("storage ready")
	return store, store, nil
}
