package server

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/HugeFrog24/gpt-diarizer/jobs"
	"github.com/HugeFrog24/gpt-diarizer/observability"
	"github.com/HugeFrog24/gpt-diarizer/utils"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// JobManager is the part of jobs.Manager the HTTP API needs.
type JobManager interface {
	Submit(req utils.Request) (jobs.Job, error)
	Get(id string) (jobs.Job, error)
	List() []jobs.Job
	Cancel(id string) error
	Wait(ctx context.Context, id string) (jobs.Job, error)
	Remove(id string) error
}

type Options struct {
	Addr                string
	CorsOrigins         []string
	MaxUploadBytes      int64
	UploadDir           string
	DefaultChunkSeconds int
	Logger              zerolog.Logger
}

type Server struct {
	opts    Options
	jobs    JobManager
	router  *gin.Engine
	http    *http.Server
	started time.Time
}

func New(opts Options, manager JobManager) *Server {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(opts.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(corsConfig(opts.CorsOrigins)))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	r.MaxMultipartMemory = 32 << 20

	s := &Server{
		opts:    opts,
		jobs:    manager,
		router:  r,
		started: time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops. It returns nil after a
// graceful Shutdown.
func (s *Server) ListenAndServe() error {
	s.http = &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.opts.Logger.Info().Str("addr", s.opts.Addr).Msg("http server listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.started).String(),
			"service": "gpt-diarizer",
		})
	})
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.POST("/speaker-diarization", s.handleDiarization)
	s.router.POST("/jobs", s.handleSubmitJob)
	s.router.GET("/jobs", s.handleListJobs)
	s.router.GET("/jobs/:id", s.handleGetJob)
	s.router.DELETE("/jobs/:id", s.handleCancelJob)
}

// corsConfig reflects any origin when "*" is configured so that credentialed
// requests keep working.
func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Requested-With"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
