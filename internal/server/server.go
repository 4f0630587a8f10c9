// Package server exposes the webhook, the check-in surface and operational
// endpoints over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"kazasu/internal/handler"
	"kazasu/internal/ledger"
	"kazasu/internal/line"
	"kazasu/internal/metrics"
	"kazasu/internal/models"
	"kazasu/internal/notify"
)

// WebhookHandler processes one authenticated-or-not webhook delivery.
type WebhookHandler interface {
	HandleDelivery(ctx context.Context, body []byte, signature string) (*handler.Result, error)
}

// Config holds HTTP server settings
type Config struct {
	Addr            string
	MaxWebhookBytes int64
	QRSize          int
	Debug           bool
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// DefaultConfig returns the settings used when none are given.
func DefaultConfig() *Config {
	return &Config{
		Addr:            ":8080",
		MaxWebhookBytes: 1 << 20,
		QRSize:          256,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
	}
}

// Server wires the HTTP routes to the dispatcher and the ledger
type Server struct {
	cfg        *Config
	engine     *gin.Engine
	httpServer *http.Server
	webhook    WebhookHandler
	ledger     ledger.Ledger
	notifier   *notify.Notifier
	log        zerolog.Logger
}

// NewServer creates the server and registers its routes.
func NewServer(cfg *Config, webhook WebhookHandler, l ledger.Ledger, n *notify.Notifier, log zerolog.Logger) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxWebhookBytes <= 0 {
		cfg.MaxWebhookBytes = 1 << 20
	}
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		webhook:  webhook,
		ledger:   l,
		notifier: n,
		log:      log.With().Str("component", "http").Logger(),
	}
	engine.Use(s.requestLogger())

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      engine,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.Any("/webhook", s.handleWebhook)

	api := s.engine.Group("/api")
	{
		api.GET("/checkin", s.handleLookup)
		api.POST("/checkin", s.handleCheckIn)
		api.POST("/push", s.handlePush)
		api.GET("/guests/:id/qr.png", s.handleGuestQR)
	}

	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleWebhook(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.JSON(http.StatusMethodNotAllowed, gin.H{"message": "Method Not Allowed"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxWebhookBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.WebhookDeliveries.WithLabelValues("too_large").Inc()
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"message": "Payload Too Large"})
			return
		}
		metrics.WebhookDeliveries.WithLabelValues("invalid_body").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"message": "Failed to read body"})
		return
	}

	result, err := s.webhook.HandleDelivery(c.Request.Context(), body, c.GetHeader(line.SignatureHeader))
	if err != nil {
		var validation *handler.ValidationError
		switch {
		case errors.Is(err, handler.ErrMissingSignature):
			metrics.WebhookDeliveries.WithLabelValues("missing_signature").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"message": "Missing signature"})
		case errors.Is(err, handler.ErrSignatureMismatch):
			metrics.WebhookDeliveries.WithLabelValues("bad_signature").Inc()
			s.log.Warn().Str("remote", c.ClientIP()).Msg("Rejected webhook with invalid signature")
			c.JSON(http.StatusUnauthorized, gin.H{"message": "Invalid signature"})
		case errors.As(err, &validation):
			metrics.WebhookDeliveries.WithLabelValues("invalid_body").Inc()
			c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		default:
			s.log.Error().Err(err).Msg("Webhook delivery failed")
			c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
		}
		return
	}

	if result.Events == 0 {
		metrics.WebhookDeliveries.WithLabelValues("empty").Inc()
		c.JSON(http.StatusOK, gin.H{"message": "No events"})
		return
	}
	metrics.WebhookDeliveries.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, gin.H{"message": "OK"})
}

type lookupResponse struct {
	Status                           string                  `json:"status"`
	ID                               string                  `json:"id,omitempty"`
	DisplayName                      string                  `json:"displayName,omitempty"`
	RequiresGiftMoneyConfirmation    bool                    `json:"requiresGiftMoneyConfirmation"`
	RequiresTransportFeeConfirmation bool                    `json:"requiresTransportFeeConfirmation"`
	Attendance                       models.AttendanceStatus `json:"attendance,omitempty"`
}

func (s *Server) handleLookup(c *gin.Context) {
	id := strings.TrimSpace(c.Query("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "id is required"})
		return
	}

	guest, err := s.ledger.LookupGuest(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			c.JSON(http.StatusOK, lookupResponse{Status: "not_found", ID: id})
			return
		}
		s.ledgerError(c, "lookup", err)
		return
	}

	c.JSON(http.StatusOK, lookupResponse{
		Status:                           "success",
		ID:                               guest.ID,
		DisplayName:                      guest.DisplayName,
		RequiresGiftMoneyConfirmation:    guest.RequiresGiftMoneyConfirmation,
		RequiresTransportFeeConfirmation: guest.RequiresTransportFeeConfirmation,
		Attendance:                       guest.Attendance,
	})
}

func (s *Server) handleCheckIn(c *gin.Context) {
	var req models.CheckInRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	req.ID = strings.TrimSpace(req.ID)
	if req.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "id is required"})
		return
	}
	for kind := range req.Answers {
		if !kind.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"message": fmt.Sprintf("unknown confirmation %q", kind)})
			return
		}
	}

	if err := s.ledger.RecordAttendance(c.Request.Context(), req.ID, req.Answers); err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			metrics.Checkins.WithLabelValues("not_found").Inc()
			c.JSON(http.StatusOK, gin.H{"status": "not_found"})
			return
		}
		metrics.Checkins.WithLabelValues("error").Inc()
		s.ledgerError(c, "record", err)
		return
	}

	metrics.Checkins.WithLabelValues("success").Inc()
	s.log.Info().Str("id", req.ID).Msg("Attendance recorded")
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

type pushRequest struct {
	LineUserID string `json:"lineUserId"`
	GuestName  string `json:"guestName"`
	GiftURL    string `json:"giftUrl"`
}

func (s *Server) handlePush(c *gin.Context) {
	var req pushRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid request body"})
		return
	}
	if req.LineUserID == "" || req.GuestName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "lineUserId and guestName are required"})
		return
	}
	if !s.notifier.Enabled() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"message": "Notifications are disabled"})
		return
	}

	if err := s.notifier.Send(c.Request.Context(), req.LineUserID, req.GuestName, req.GiftURL); err != nil {
		s.log.Error().Err(err).Str("to", req.LineUserID).Msg("Failed to push message")
		c.JSON(http.StatusBadGateway, gin.H{"message": "Failed to send message"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message sent successfully"})
}

func (s *Server) handleGuestQR(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "id is required"})
		return
	}
	png, err := qrcode.Encode(id, qrcode.Medium, s.cfg.QRSize)
	if err != nil {
		s.log.Error().Err(err).Str("id", id).Msg("Failed to encode QR code")
		c.JSON(http.StatusInternalServerError, gin.H{"message": "Failed to encode QR code"})
		return
	}
	c.Data(http.StatusOK, "image/png", png)
}

func (s *Server) ledgerError(c *gin.Context, op string, err error) {
	s.log.Error().Err(err).Str("op", op).Msg("Ledger request failed")
	var transport *ledger.TransportError
	if errors.As(err, &transport) || errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusBadGateway, gin.H{"message": "Ledger unavailable"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"message": "Internal Server Error"})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request")
	}
}
