package http

import (
	"errors"
	"net/http"
	"strings"

	"soulbot/internal/entities"
	"soulbot/internal/infrastructure"
	"soulbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Handler serves the public endpoints: web chat, payment QR codes and the
// Stripe webhook.
type Handler struct {
	messageService *usecases.MessageService
	payments       *usecases.PaymentService
	paymentURL     string
	stripeSecret   string
	log            zerolog.Logger
}

func NewHandler(service *usecases.MessageService, payments *usecases.PaymentService, paymentURL, stripeWebhookSecret string, log zerolog.Logger) *Handler {
	return &Handler{
		messageService: service,
		payments:       payments,
		paymentURL:     paymentURL,
		stripeSecret:   stripeWebhookSecret,
		log:            log.With().Str("component", "http").Logger(),
	}
}

func SetupRoutes(r *gin.Engine, h *Handler, adminHandler *AdminHandler, auth *usecases.AuthUsecase, middleware *Middleware) {
	// Apply Security Middleware
	r.Use(RequestLogger(h.log))
	r.Use(SecurityHeaders())
	r.Use(RequestSizeLimiter(1 << 20)) // 1MB max request size
	r.Use(middleware.CORSMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if stats := h.messageService.LimiterStats(); stats != nil {
			body["limiter"] = stats
		}
		c.JSON(http.StatusOK, body)
	})

	// Public Routes
	r.POST("/webhook/web", h.HandleWebMessage)
	r.POST("/webhook/stripe", h.StripeWebhook)
	r.GET("/pay/qr/:externalID", h.GetPaymentQR)

	// Public Auth Routes
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/login", func(c *gin.Context) {
			var loginReq struct {
				Username string `json:"username" binding:"required"`
				Password string `json:"password" binding:"required"`
			}
			if err := c.ShouldBindJSON(&loginReq); err != nil || !ValidateLength(loginReq.Username, 1, MaxSlugLength) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
				return
			}
			token, err := auth.Login(loginReq.Username, loginReq.Password)
			if errors.Is(err, usecases.ErrAdminDisabled) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Admin login disabled"})
				return
			}
			if err != nil {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid credentials"})
				return
			}
			c.JSON(http.StatusOK, gin.H{"token": token})
		})
	}

	// Admin-only Routes
	admin := r.Group("/api/admin")
	admin.Use(middleware.AuthRequired())
	admin.Use(middleware.AdminRequired())
	admin.Use(middleware.RateLimitPerUser(5, 10))
	{
		admin.GET("/accounts/:externalID", adminHandler.GetAccount)
		admin.POST("/accounts/:externalID/personas", adminHandler.UnlockPersona)
		admin.POST("/payments", adminHandler.ConfirmPayment)
		admin.GET("/whatsapp/qr", adminHandler.GetWhatsAppQR)
		admin.GET("/whatsapp/status", adminHandler.GetWhatsAppStatus)
	}
}

type webMessageRequest struct {
	From    string `json:"from" binding:"required"`
	Name    string `json:"name"`
	Content string `json:"content" binding:"required"`
}

type webMessageResponse struct {
	Reply   string            `json:"reply"`
	Buttons []entities.Button `json:"buttons,omitempty"`
	PayURL  string            `json:"pay_url,omitempty"`
}

// HandleWebMessage answers a web chat message synchronously
func (h *Handler) HandleWebMessage(c *gin.Context) {
	var payload webMessageRequest
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidExternalID(payload.From) || len(payload.Content) > MaxPayloadLength {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid sender or message too long"})
		return
	}

	msg := entities.Message{
		From:        payload.From,
		DisplayName: payload.Name,
		Content:     payload.Content,
		Platform:    "web",
	}

	resp := h.messageService.HandleMessage(c.Request.Context(), msg)
	if resp == nil {
		c.Status(http.StatusNoContent)
		return
	}

	out := webMessageResponse{Reply: resp.Content, Buttons: resp.Buttons}
	if resp.Invoice != nil {
		out.PayURL = resp.Invoice.URL
	} else if len(resp.Photo) > 0 {
		out.PayURL = usecases.PaymentLink(h.paymentURL, msg.AccountKey())
	}
	c.JSON(http.StatusOK, out)
}

// GetPaymentQR returns the user's payment link as a PNG QR code
func (h *Handler) GetPaymentQR(c *gin.Context) {
	externalID := strings.TrimSpace(c.Param("externalID"))
	if !ValidExternalID(externalID) {
		c.String(http.StatusBadRequest, "Invalid account")
		return
	}
	if h.paymentURL == "" {
		c.String(http.StatusServiceUnavailable, "Payments not configured")
		return
	}

	png, err := infrastructure.PaymentQR(usecases.PaymentLink(h.paymentURL, externalID))
	if err != nil {
		h.log.Error().Err(err).Msg("payment qr")
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}
