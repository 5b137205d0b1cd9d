package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"soulbot/internal/config"
	"soulbot/internal/entities"
	"soulbot/internal/usecases"

	"github.com/gin-gonic/gin"
	"github.com/skip2/go-qrcode"
)

// WhatsAppLogin is the part of the WhatsApp client the admin API reads.
type WhatsAppLogin interface {
	GetQR() string
	IsLoggedIn() bool
}

type AdminHandler struct {
	dashboard *usecases.DashboardUsecase
	bot       *config.BotConfig
	whatsapp  WhatsAppLogin
}

// NewAdminHandler creates the admin handler. whatsapp may be nil when the
// transport is disabled.
func NewAdminHandler(dashboard *usecases.DashboardUsecase, bot *config.BotConfig, whatsapp WhatsAppLogin) *AdminHandler {
	return &AdminHandler{
		dashboard: dashboard,
		bot:       bot,
		whatsapp:  whatsapp,
	}
}

// GetAccount returns quota state, unlocked personas and recent usage
func (h *AdminHandler) GetAccount(c *gin.Context) {
	externalID := c.Param("externalID")
	if !ValidExternalID(externalID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account id"})
		return
	}

	days := 30
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 || n > MaxUsageDays {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days"})
			return
		}
		days = n
	}

	overview, err := h.dashboard.GetAccount(c.Request.Context(), externalID, days)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, overview)
}

type manualPaymentRequest struct {
	ExternalID string `json:"external_id" binding:"required"`
	Amount     int64  `json:"amount" binding:"required"`
	Currency   string `json:"currency" binding:"required"`
	ChargeID   string `json:"charge_id" binding:"required"`
}

// ConfirmPayment books a payment taken outside the bot
func (h *AdminHandler) ConfirmPayment(c *gin.Context) {
	var req manualPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	if !ValidExternalID(req.ExternalID) || !ValidateLength(req.ChargeID, 1, MaxExternalIDLength) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid account or charge id"})
		return
	}

	res, err := h.dashboard.GrantPremium(c.Request.Context(), entities.PaymentEvent{
		ExternalID: req.ExternalID,
		Amount:     req.Amount,
		Currency:   req.Currency,
		ChargeID:   req.ChargeID,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	status := http.StatusOK
	if res.Status == usecases.PaymentAlreadyProcessed {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{
		"status":     res.Status,
		"expires_at": res.ExpiresAt,
	})
}

// UnlockPersona grants a hidden persona without the /souls flow
func (h *AdminHandler) UnlockPersona(c *gin.Context) {
	externalID := c.Param("externalID")
	var req struct {
		Persona string `json:"persona" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || !ValidExternalID(externalID) || !ValidSlug(req.Persona) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}
	persona := strings.ToLower(req.Persona)
	if _, ok := h.bot.Persona(persona); !ok {
		writeError(c, entities.ErrUnknownPersona)
		return
	}

	unlocked, err := h.dashboard.UnlockPersona(c.Request.Context(), externalID, persona)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"unlocked": unlocked})
}

// GetWhatsAppQR returns the pending WhatsApp login code as a PNG
func (h *AdminHandler) GetWhatsAppQR(c *gin.Context) {
	if h.whatsapp == nil {
		c.String(http.StatusServiceUnavailable, "WhatsApp not configured")
		return
	}

	qrCodeString := h.whatsapp.GetQR()
	if qrCodeString == "" {
		if h.whatsapp.IsLoggedIn() {
			c.String(http.StatusOK, "Already logged in")
			return
		}
		c.String(http.StatusAccepted, "QR code not yet available. Please wait...")
		return
	}

	// Generate PNG
	png, err := qrcode.Encode(qrCodeString, qrcode.Medium, 256)
	if err != nil {
		c.String(http.StatusInternalServerError, "Failed to generate QR code")
		return
	}

	c.Data(http.StatusOK, "image/png", png)
}

func (h *AdminHandler) GetWhatsAppStatus(c *gin.Context) {
	if h.whatsapp == nil {
		c.JSON(http.StatusOK, gin.H{"connected": false, "error": "WhatsApp not configured"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"connected": h.whatsapp.IsLoggedIn(),
		"hasQR":     h.whatsapp.GetQR() != "",
	})
}

// writeError maps ledger errors to HTTP status codes
func writeError(c *gin.Context, err error) {
	var verr entities.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
	case errors.Is(err, entities.ErrInvalidPayment):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, entities.ErrUnknownPersona):
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown persona"})
	case errors.Is(err, entities.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
	case errors.Is(err, entities.ErrPersistenceUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Storage unavailable, try later"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal error"})
	}
}
