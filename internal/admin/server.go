// Package admin serves the local operator HTTP API: health, metrics, the
// route registry and the live session.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/balatrobot/internal/auth"
	"github.com/danmuck/balatrobot/internal/logging"
	"github.com/danmuck/balatrobot/internal/observability"
	"github.com/danmuck/balatrobot/internal/protocol/session"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Version = "0.1.0"

type Server struct {
	Addr    string
	Tracker *Tracker
	Started time.Time
	// Auth guards mutating endpoints; nil leaves them open.
	Auth auth.Validator

	router *gin.Engine
}

func New(addr string, tracker *Tracker, validator auth.Validator) *Server {
	observability.RegisterMetrics()
	if tracker == nil {
		tracker = NewTracker()
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(logging.Component("admin")))
	r.Use(observability.RequestMetricsMiddleware())
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		Addr:    addr,
		Tracker: tracker,
		Started: time.Now(),
		Auth:    validator,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": "botctl",
			"version": Version,
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/routes", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"routes": session.Routes()})
	})

	s.router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.Tracker.Snapshot())
	})

	s.router.POST("/session/close", s.requireToken(), func(c *gin.Context) {
		conn := s.Tracker.Current()
		if conn == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active session"})
			return
		}
		_ = conn.Close()
		log := logging.Component("admin")
		log.Info().Str("session_id", conn.ID()).Msg("session closed by operator")
		c.JSON(http.StatusOK, gin.H{"status": "closed", "session_id": conn.ID()})
	})
}

func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.Auth == nil {
			c.Next()
			return
		}
		if err := auth.CheckHeader(s.Auth, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

// Serve runs the HTTP server on ln until ctx ends.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log := logging.Component("admin")
	log.Info().Str("addr", ln.Addr().String()).Msg("admin api listening")

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ListenAndServe binds s.Addr and serves until ctx ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
