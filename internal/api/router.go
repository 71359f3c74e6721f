// Package api wires the gin router and every HTTP handler the job
// service exposes: job submission/lifecycle, segment and merged audio
// delivery, dictionary management, and admin/metrics introspection.
package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pronouncex/ttsjobs/internal/dict"
	"github.com/pronouncex/ttsjobs/internal/jobs"
	"github.com/pronouncex/ttsjobs/internal/merge"
	"github.com/pronouncex/ttsjobs/internal/metrics"
	"github.com/pronouncex/ttsjobs/internal/middleware"
	"github.com/pronouncex/ttsjobs/internal/resolver"
	"github.com/pronouncex/ttsjobs/internal/segcache"
)

// Server bundles every dependency the handlers need.
type Server struct {
	Manager   *jobs.Manager
	Dicts     *dict.Store
	Resolver  *resolver.Resolver
	Learner   *resolver.Learner
	Cache     *segcache.Cache
	Merge     *merge.Pipeline
	Metrics   *metrics.Metrics
	Registry  *prometheus.Registry
	StartedAt time.Time
}

func NewRouter(s *Server, limiter *middleware.RateLimiter) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.handleHealth)

	v1 := r.Group("/v1")
	{
		tts := v1.Group("/tts")
		if limiter != nil {
			tts.Use(limiter.Middleware())
		}
		tts.POST("/jobs", s.handleSubmitJob)
		tts.GET("/jobs/:job_id", s.handleGetJob)
		tts.POST("/jobs/:job_id/cancel", s.handleCancelJob)
		tts.GET("/jobs/:job_id/playlist", s.handlePlaylist)
		tts.GET("/jobs/:job_id/segments/:segment_id", s.handleGetSegment)
		tts.HEAD("/jobs/:job_id/segments/:segment_id", s.handleHeadSegment)
		tts.GET("/jobs/:job_id/audio", s.handleGetMergedAudio)
		tts.GET("/jobs/:job_id/stream", s.handleStream)

		dicts := v1.Group("/dicts")
		dicts.GET("", s.handleListPacks)
		dicts.GET("/lookup", s.handleLookup)
		dicts.GET("/:name", s.handleGetPack)
		dicts.POST("/upload", s.handleUploadPack)
		dicts.POST("/compile", s.handleCompilePacks)
		dicts.POST("/learn", s.handleLearn)
		dicts.POST("/learn/flush", s.handleFlushLearn)
		dicts.POST("/override", s.handleOverride)
		dicts.POST("/promote", s.handlePromote)
		dicts.POST("/phonemize", s.handlePhonemize)

		v1.GET("/models", s.handleListModels)
		v1.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.promRegistry(), promhttp.HandlerOpts{})))
		v1.GET("/admin/status", s.handleAdminStatus)
	}

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// promRegistry falls back to a bare, unpopulated registry if the server
// wasn't given one, so /v1/metrics always serves valid (if empty)
// Prometheus exposition text instead of panicking.
func (s *Server) promRegistry() *prometheus.Registry {
	if s.Registry != nil {
		return s.Registry
	}
	return prometheus.NewRegistry()
}
