// Package api exposes the local debug surface: health, the redacted
// configuration, engine and cache state, recent logs, usage aggregates and
// Prometheus metrics. It binds to localhost by default and carries no
// authentication; it is an operator tool, not a public API.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/seralys/lorekeeper/internal/buildinfo"
	"github.com/seralys/lorekeeper/internal/config"
	"github.com/seralys/lorekeeper/internal/engine"
	"github.com/seralys/lorekeeper/internal/logging"
	"github.com/seralys/lorekeeper/internal/usage"
	"github.com/seralys/lorekeeper/internal/worldinfo"
)

// Server is the debug HTTP server. Ledger and bridge are optional; their
// routes answer 503 when the collaborator is absent.
type Server struct {
	settings   func() *config.Settings
	eng        *engine.Engine
	bridge     *worldinfo.Bridge
	ledger     *usage.Ledger
	collectors *Collectors

	httpServer *http.Server
}

func New(settings func() *config.Settings, eng *engine.Engine, bridge *worldinfo.Bridge, ledger *usage.Ledger, collectors *Collectors) *Server {
	return &Server{settings: settings, eng: eng, bridge: bridge, ledger: ledger, collectors: collectors}
}

// Handler builds the gin router. Split from Run so tests can drive it with
// httptest.
func (s *Server) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"version": buildinfo.Version,
		})
	})

	debug := r.Group("/debug")
	debug.GET("/config", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.settings().Redacted())
	})
	debug.GET("/engine", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.eng.DebugInfo())
	})
	debug.GET("/archive", func(c *gin.Context) {
		if s.bridge == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive bridge is not configured"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"pending": s.bridge.Pending()})
	})

	r.GET("/logs", func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
		c.JSON(http.StatusOK, gin.H{"entries": logging.RecentEntries(limit)})
	})

	usageGroup := r.Group("/usage")
	usageGroup.GET("/summary", func(c *gin.Context) {
		if s.ledger == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "usage ledger is not configured"})
			return
		}
		summary, err := s.ledger.Summary(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"providers": summary})
	})
	usageGroup.GET("/recent", func(c *gin.Context) {
		if s.ledger == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "usage ledger is not configured"})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
		rows, err := s.ledger.Recent(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"calls": rows})
	})

	r.POST("/archive/refresh", func(c *gin.Context) {
		if s.bridge == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "archive bridge is not configured"})
			return
		}
		if err := s.bridge.Refresh(c.Request.Context()); err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "refreshed"})
	})

	if s.collectors != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.collectors.Registry(), promhttp.HandlerOpts{})))
	}
	return r
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("debug server listening on %s", addr)
		errCh <- s.httpServer.ListenAndServe()
	}()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
