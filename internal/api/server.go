// Package api is the HTTP intake for notifications, inbox reads and
// campaign management. It performs no authentication.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/queue"
	"github.com/zulandar/signalbox/internal/store"
	"go.uber.org/zap"
)

// Store is the repository surface the API reads and writes directly.
type Store interface {
	GetMessage(ctx context.Context, messageUUID string) (*models.Message, error)
	UpdateMessage(ctx context.Context, messageUUID string, upd store.MessageUpdate) (*models.Message, error)
	MarkRead(ctx context.Context, messageUUIDs []string) ([]models.Message, error)
	ListMessagesForUser(ctx context.Context, userUUID string, notifiedOnly bool) ([]models.Message, error)
	GetUser(ctx context.Context, userUUID string) (*models.User, error)
	GetOrCreateUser(ctx context.Context, userUUID, email string) (*models.User, bool, error)
	UpdateUser(ctx context.Context, userUUID string, upd store.UserUpdate) (*models.User, error)
}

// JobRunner executes a job in the request goroutine.
type JobRunner interface {
	Run(ctx context.Context, job queue.Job) error
}

// Options holds the server dependencies.
type Options struct {
	Store     Store
	Queue     queue.Submitter
	Runner    JobRunner
	Campaigns Campaigns
	Logger    *zap.Logger
	Port      int
	Out       io.Writer
}

// Server routes HTTP requests to the engine.
type Server struct {
	store     Store
	queue     queue.Submitter
	runner    JobRunner
	campaigns Campaigns
	logger    *zap.Logger
}

// New validates opts and returns a Server.
func New(opts Options) (*Server, error) {
	switch {
	case opts.Store == nil:
		return nil, errors.New("api: store is required")
	case opts.Queue == nil:
		return nil, errors.New("api: queue is required")
	case opts.Runner == nil:
		return nil, errors.New("api: runner is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Server{
		store:     opts.Store,
		queue:     opts.Queue,
		runner:    opts.Runner,
		campaigns: opts.Campaigns,
		logger:    opts.Logger.Named("api"),
	}, nil
}

// Handler builds the gin engine with every route registered.
func (s *Server) Handler() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLog(s.logger))
	s.registerRoutes(router)
	return router
}

// Start serves on opts.Port until ctx is cancelled, then shuts down
// gracefully.
func Start(ctx context.Context, opts Options) error {
	s, err := New(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "API listening on http://localhost:%d\n", opts.Port)
	}
	s.logger.Info("API server started", zap.Int("port", opts.Port))

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

func (s *Server) registerRoutes(router *gin.Engine) {
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")

	n := v1.Group("/notifications")
	n.POST("/send-email", s.handleSendEmail)
	n.POST("/send-immediate", s.handleSendImmediate)
	n.POST("/send-pending", s.handleSendPending)
	n.POST("/send-to-users", s.handleSendToUsers)
	n.POST("/send-to-all", s.handleSendToAll)
	v1.POST("/rescan", s.handleRescan)

	v1.POST("/users", s.handleGetOrCreateUser)
	v1.GET("/users/:uuid", s.handleGetUser)
	v1.PATCH("/users/:uuid", s.handleUpdateUser)
	v1.GET("/users/:uuid/messages", s.handleUserMessages)

	v1.PUT("/messages/mark-read", s.handleMarkRead)
	v1.GET("/messages/:uuid", s.handleGetMessage)
	v1.PUT("/messages/:uuid", s.handleUpdateMessage)

	if s.campaigns != nil {
		v1.GET("/campaigns", s.handleListCampaigns)
		v1.POST("/campaigns", s.handleCreateCampaign)
		v1.GET("/campaigns/:id", s.handleGetCampaign)
		v1.PUT("/campaigns/:id", s.handleUpdateCampaign)
		v1.DELETE("/campaigns/:id", s.handleDisableCampaign)
		v1.POST("/campaigns/:id/fire", s.handleFireCampaign)
	}
}

// requestLog logs one line per request with its status and latency.
func requestLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("dur", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			logger.Warn("Request failed", append(fields, zap.String("err", c.Errors.String()))...)
			return
		}
		logger.Debug("Request ok", fields...)
	}
}
