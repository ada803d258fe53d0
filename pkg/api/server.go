package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/cuongdev/billgate/db"
	"github.com/cuongdev/billgate/pkg/models"
	"github.com/cuongdev/billgate/pkg/orchestrator"
	"github.com/cuongdev/billgate/pkg/webhook"
)

// Server exposes the account and webhook management API over HTTP.
type Server struct {
	host   *orchestrator.Host
	store  db.Store
	engine *gin.Engine
}

func NewServer(host *orchestrator.Host, store db.Store) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{host: host, store: store, engine: gin.New()}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.routes()
	return s
}

// Handler returns the root http handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	log.Info().Str("addr", addr).Msg("API server listening")
	return s.engine.Run(addr)
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.health)

	api := s.engine.Group("/api")
	{
		api.POST("/accounts", s.registerAccount)
		api.GET("/accounts", s.listAccounts)
		api.GET("/accounts/:key/status", s.accountStatus)
		api.GET("/accounts/:key/transactions", s.accountTransactions)
		api.POST("/accounts/:key/pause", s.pauseAccount)
		api.POST("/accounts/:key/resume", s.resumeAccount)
		api.POST("/accounts/:key/revalidate", s.revalidateAccount)
		api.DELETE("/accounts/:key", s.deleteAccount)

		api.POST("/webhooks", s.createWebhook)
		api.GET("/webhooks", s.listWebhooks)
		api.DELETE("/webhooks/:id", s.deleteWebhook)
		api.POST("/webhooks/:id/test", s.testWebhook)
		api.GET("/webhook-logs", s.webhookLogs)

		api.GET("/events", s.streamEvents)
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("Handled request")
	}
}

func (s *Server) health(c *gin.Context) {
	total, active := s.host.ListenerStats()
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"listeners":       total,
		"listenersActive": active,
	})
}

func (s *Server) registerAccount(c *gin.Context) {
	var req orchestrator.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	session, err := s.host.RegisterAccount(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, session)
}

func (s *Server) listAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, s.host.ListAccounts())
}

func (s *Server) accountStatus(c *gin.Context) {
	status, err := s.host.AccountStatus(c.Param("key"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) accountTransactions(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	txs, err := s.store.GetTransactions(c.Param("key"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, txs)
}

func (s *Server) pauseAccount(c *gin.Context) {
	if err := s.host.Pause(c.Param("key")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "paused"})
}

func (s *Server) resumeAccount(c *gin.Context) {
	if err := s.host.Resume(c.Param("key")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (s *Server) revalidateAccount(c *gin.Context) {
	if err := s.host.Revalidate(c.Request.Context(), c.Param("key")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revalidated"})
}

func (s *Server) deleteAccount(c *gin.Context) {
	// An explicit user delete cascades a hard purge of the account's
	// rows; the retention sweep only handles internal tombstones.
	if err := s.host.Purge(c.Param("key")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

type createWebhookRequest struct {
	SessionKey          string             `json:"sessionKey"`
	UserID              string             `json:"userId" binding:"required"`
	Name                string             `json:"name"`
	Trigger             models.TriggerType `json:"trigger"`
	IgnoreNoPaymentCode bool               `json:"ignoreNoPaymentCode"`
	PaymentCodeRegex    string             `json:"paymentCodeRegex"`
	Type                string             `json:"type" binding:"required"`

	URL        string            `json:"url"`
	Auth       models.AuthType   `json:"auth"`
	AuthHeader string            `json:"authHeader"`
	AuthSecret string            `json:"authSecret"`
	Headers    map[string]string `json:"headers"`

	BotToken string `json:"botToken"`
	ChatID   int64  `json:"chatId"`
}

func (s *Server) createWebhook(c *gin.Context) {
	var req createWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if req.PaymentCodeRegex != "" && webhook.SafeUserPattern(req.PaymentCodeRegex) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "paymentCodeRegex is invalid or unsafe"})
		return
	}

	var target models.Target
	switch models.DestinationType(req.Type) {
	case models.DestinationHTTP:
		if req.URL == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "url is required for http webhooks"})
			return
		}
		auth := req.Auth
		if auth == "" {
			auth = models.AuthNone
		}
		target = &models.GenericHTTP{
			URL:        req.URL,
			Auth:       auth,
			AuthHeader: req.AuthHeader,
			AuthSecret: req.AuthSecret,
			Headers:    req.Headers,
		}
	case models.DestinationTelegram:
		if req.BotToken == "" || req.ChatID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "botToken and chatId are required for telegram webhooks"})
			return
		}
		target = &models.ChatBot{BotToken: req.BotToken, ChatID: req.ChatID}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown webhook type"})
		return
	}

	trigger := req.Trigger
	if trigger == "" {
		trigger = models.TriggerBoth
	}

	d := &models.Destination{
		ID:                  uuid.NewString(),
		SessionKey:          req.SessionKey,
		UserID:              req.UserID,
		Name:                req.Name,
		Enabled:             true,
		Trigger:             trigger,
		IgnoreNoPaymentCode: req.IgnoreNoPaymentCode,
		PaymentCodeRegex:    req.PaymentCodeRegex,
		Target:              target,
	}
	if err := s.store.SaveDestination(d); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (s *Server) listWebhooks(c *gin.Context) {
	userID := c.Query("userId")
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "userId is required"})
		return
	}
	destinations, err := s.store.ListDestinationsForOwner(userID, c.Query("sessionKey"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, destinations)
}

func (s *Server) deleteWebhook(c *gin.Context) {
	if err := s.store.SoftDeleteDestination(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

func (s *Server) testWebhook(c *gin.Context) {
	result, err := s.host.DispatchTest(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    result.Success,
		"statusCode": result.StatusCode,
		"error":      result.ErrorMessage,
	})
}

func (s *Server) webhookLogs(c *gin.Context) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	logs, err := s.store.GetDispatchLogs(limit, c.Query("webhookId"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, logs)
}

// streamEvents pushes sync results to the client as server-sent
// events until it disconnects.
func (s *Server) streamEvents(c *gin.Context) {
	events, cancel := s.host.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("transactions", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
