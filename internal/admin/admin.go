// Package admin serves a small read-only HTTP API for inspecting a running
// redirection channel.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rcarmo/go-rdpdr/internal/logging"
	"github.com/rcarmo/go-rdpdr/internal/rdpdr"
)

// Source supplies channel snapshots.
type Source interface {
	Snapshot() rdpdr.Snapshot
}

// Options configures the API.
type Options struct {
	Version  string
	Gatherer prometheus.Gatherer
}

type healthResponse struct {
	Status  string `json:"status"`
	State   string `json:"state"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// Router builds the gin engine for src.
func Router(src Source, opts Options) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	started := time.Now()

	router := gin.New()
	router.Use(recovery(), requestLogging())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, healthResponse{
			Status:  "ok",
			State:   src.Snapshot().State,
			Version: opts.Version,
			Uptime:  time.Since(started).Round(time.Second).String(),
		})
	})
	router.GET("/devices", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot().Devices)
	})
	router.GET("/requests", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot().Pending)
	})
	router.GET("/session", func(c *gin.Context) {
		c.JSON(http.StatusOK, src.Snapshot())
	})

	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return router
}

// NewServer returns an http.Server for the API listening on addr.
func NewServer(addr string, src Source, opts Options) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           Router(src, opts),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func requestLogging() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("Admin: %s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func recovery() gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.Error("Admin: panic serving %s: %v", c.Request.URL.Path, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	})
}
