// Package server exposes a Runtime over HTTP with gin. Chat turns stream as
// server-sent events whose data payloads are encoded frames.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/campusagent/core"
	"github.com/hupe1980/campusagent/logging"
	"github.com/hupe1980/campusagent/stream"
)

// Routes served by the server.
const (
	ChatPath     = "/ai/manus/chat"
	ChatSyncPath = "/ai/manus/chat/sync"
	ClearPath    = "/ai/manus/clear"
	HealthPath   = "/health"
	MetricsPath  = "/metrics"
)

// Runtime is the agent behind the server. *campusagent.Runtime implements it.
type Runtime interface {
	Open(ctx context.Context, chatID, message string) *stream.Subscription
	Clear(chatID string) bool
}

// Options configures a Server.
type Options struct {
	Logger logging.Logger
	// RateLimit is the sustained number of chat requests per second allowed
	// for one client address. Zero disables limiting.
	RateLimit float64
	RateBurst int
	// Metrics, when set, is served on MetricsPath.
	Metrics http.Handler
	// ShutdownTimeout bounds graceful shutdown in ListenAndServe.
	ShutdownTimeout time.Duration
}

// Server routes HTTP requests to a Runtime.
type Server struct {
	rt     Runtime
	opts   Options
	engine *gin.Engine
}

// New creates a Server and registers its routes.
func New(rt Runtime, optFns ...func(o *Options)) *Server {
	opts := Options{
		Logger:          logging.NoOpLogger{},
		ShutdownTimeout: 10 * time.Second,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(opts.Logger))

	s := &Server{rt: rt, opts: opts, engine: engine}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET(HealthPath, s.handleHealth)
	if s.opts.Metrics != nil {
		s.engine.GET(MetricsPath, gin.WrapH(s.opts.Metrics))
	}

	chat := s.engine.Group("")
	if s.opts.RateLimit > 0 {
		chat.Use(rateLimit(newClientLimiter(s.opts.RateLimit, s.opts.RateBurst)))
	}
	chat.GET(ChatPath, s.handleChat)
	chat.GET(ChatSyncPath, s.handleChatSync)
	chat.GET(ClearPath, s.handleClear)
	chat.POST(ClearPath, s.handleClear)
}

// Handler returns the http.Handler serving all routes.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.Info("server.listen", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	s.opts.Logger.Info("server.shutdown")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

type chatQuery struct {
	Message string `form:"message" binding:"max=8000"`
	ChatID  string `form:"chatId" binding:"max=128"`
}

type chatResponse struct {
	ChatID   string   `json:"chatId"`
	Text     string   `json:"text"`
	Progress []string `json:"progress,omitempty"`
	Error    string   `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleChat streams one turn as server-sent events.
func (s *Server) handleChat(c *gin.Context) {
	var q chatQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	setSSEHeaders(c.Writer)
	c.Status(http.StatusOK)

	sub := s.rt.Open(c.Request.Context(), q.ChatID, q.Message)
	for {
		select {
		case <-c.Request.Context().Done():
			sub.Cancel()
			return
		case f, ok := <-sub.Frames:
			if !ok {
				return
			}
			c.SSEvent("message", f.Encode())
			c.Writer.Flush()
		}
	}
}

// handleChatSync runs one turn and answers with the folded transcript.
func (s *Server) handleChatSync(c *gin.Context) {
	var q chatQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	tr := stream.Collect(s.rt.Open(c.Request.Context(), q.ChatID, q.Message).Frames)
	c.JSON(statusOf(tr), chatResponse{
		ChatID:   q.ChatID,
		Text:     tr.Text,
		Progress: tr.Progress,
		Error:    tr.Err,
	})
}

func (s *Server) handleClear(c *gin.Context) {
	var q chatQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"chatId": q.ChatID, "cleared": s.rt.Clear(q.ChatID)})
}

// statusOf maps an error frame to an HTTP status.
func statusOf(tr stream.Transcript) int {
	switch {
	case tr.Err == "":
		return http.StatusOK
	case tr.Err == core.ErrEmptyInput.Error():
		return http.StatusBadRequest
	case strings.HasPrefix(tr.Err, core.ErrInvalidState.Error()):
		return http.StatusConflict
	case tr.Err == core.ErrStreamTimeout.Error():
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}
