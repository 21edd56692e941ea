// Package server exposes the host operations over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danmuck/muxctl/internal/auth"
	"github.com/danmuck/muxctl/internal/config"
	"github.com/danmuck/muxctl/internal/device"
	"github.com/danmuck/muxctl/internal/observability"
	"github.com/danmuck/muxctl/internal/ops"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

const shutdownTimeout = 10 * time.Second

// Operations is the subset of ops.Runner the server drives.
type Operations interface {
	EnableJITOutcome(ctx context.Context, appID string) ops.Outcome
	StagePackageOutcome(ctx context.Context, bundleID string, data []byte) ops.Outcome
	InstallPackageOutcome(ctx context.Context, bundleID string) ops.Outcome
}

type DeviceLister interface {
	List(ctx context.Context) ([]device.Info, error)
}

type Server struct {
	cfg       config.ServerConfig
	ops       Operations
	devices   DeviceLister
	validator auth.Validator
	router    *gin.Engine
	started   time.Time
}

func New(cfg config.ServerConfig, operations Operations, devices DeviceLister) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		cfg:     cfg,
		ops:     operations,
		devices: devices,
		router:  gin.New(),
		started: time.Now(),
	}
	if cfg.Token != "" {
		s.validator = auth.StaticToken{Token: cfg.Token}
	}

	s.router.Use(gin.Recovery())
	s.router.Use(observability.RequestLogger(log.Logger))
	s.router.Use(observability.RequestMetricsMiddleware())
	if len(cfg.CorsOrigins) > 0 {
		s.router.Use(cors.New(cors.Config{
			AllowOrigins: cfg.CorsOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut},
			AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
			MaxAge:       12 * time.Hour,
		}))
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("http host listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.validator == nil {
			c.Next()
			return
		}
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok || s.validator.Validate(token) != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": auth.ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}
