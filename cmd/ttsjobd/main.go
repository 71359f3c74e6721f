// Command ttsjobd runs the pronunciation-correct TTS job service: the
// admission API, the segment worker pool, or both, depending on the
// configured role.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pronouncex/ttsjobs/internal/api"
	"github.com/pronouncex/ttsjobs/internal/chunk"
	"github.com/pronouncex/ttsjobs/internal/codec"
	"github.com/pronouncex/ttsjobs/internal/config"
	"github.com/pronouncex/ttsjobs/internal/dict"
	"github.com/pronouncex/ttsjobs/internal/jobs"
	"github.com/pronouncex/ttsjobs/internal/jobstore"
	"github.com/pronouncex/ttsjobs/internal/lock"
	"github.com/pronouncex/ttsjobs/internal/logging"
	"github.com/pronouncex/ttsjobs/internal/merge"
	"github.com/pronouncex/ttsjobs/internal/metrics"
	"github.com/pronouncex/ttsjobs/internal/middleware"
	"github.com/pronouncex/ttsjobs/internal/phonemizer"
	"github.com/pronouncex/ttsjobs/internal/queue"
	"github.com/pronouncex/ttsjobs/internal/resolver"
	"github.com/pronouncex/ttsjobs/internal/segcache"
	"github.com/pronouncex/ttsjobs/internal/synth"
	"github.com/pronouncex/ttsjobs/internal/worker"
	"github.com/pronouncex/ttsjobs/pkg/cache"
)

func main() {
	logging.Bootstrap()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("load config", zap.Error(err))
	}

	log, err := logging.New(cfg.Log)
	if err != nil {
		logging.Fatal("init logger", zap.Error(err))
	}
	defer logging.Sync()

	log.Info("starting ttsjobs", zap.Any("config", cfg.Redact()))

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatal("parse redis url", zap.Error(err))
		}
		rdb = redis.NewClient(opts)
	}

	store := buildStore(cfg, rdb)
	q := buildQueue(cfg, rdb)
	locker := buildLocker(cfg, rdb)

	dicts := dict.NewStore(cfg.DictDir)
	if err := dicts.LoadAll(); err != nil {
		log.Fatal("load dict packs", zap.Error(err))
	}

	learner := resolver.NewLearner(cfg.AutolearnPath)
	if err := learner.EnsureDir(); err != nil {
		log.Fatal("ensure autolearn dir", zap.Error(err))
	}

	phon := phonemizer.NewEspeakPhonemizer(cfg.EspeakBinary, cfg.EspeakLanguage, 3*time.Second)
	memo := cache.NewGoCache(cache.LocalConfig{MaxSize: 50000, DefaultExpiration: 30 * time.Minute, CleanupInterval: 10 * time.Minute})
	res := resolver.New(dicts, cfg.DictPriority, phon, learner).WithMemo(memo)

	segmentCache, err := segcache.New(cfg.CacheDir, cfg.CacheMaxBytes, cfg.CacheMaxEntries)
	if err != nil {
		log.Fatal("init segment cache", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	sy := buildSynthesizer(cfg)
	cd := codec.New(codec.OpusOptions{BitrateBps: cfg.OpusBitrateBps}, cfg.FFmpegBinary)

	manager := jobs.New(store, q, dicts, res, segmentCache, m, jobs.Limits{
		MaxTextChars:      cfg.MaxTextChars,
		MaxSegmentsPerJob: cfg.MaxSegments,
		MaxActiveJobs:     cfg.MaxActiveJobs,
		ModelAllowlist:    cfg.ModelAllowlist,
		CompilerVersion:   cfg.CompilerVersion,
		PhonemeMode:       cfg.PhonemeMode,
		DefaultProfile:    cfg.ReadingProfile,
	}, chunk.Options{
		TargetChars:     cfg.ChunkTargetChars,
		MaxChars:        cfg.ChunkMaxChars,
		MinSegmentChars: cfg.MinSegmentChars,
	})

	mergePipeline := merge.New(store, segmentCache, cd, locker, m, cfg.MergedAudioDir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Role == config.RoleAll || cfg.Role == config.RoleWorker {
		startWorkers(ctx, cfg, store, q, segmentCache, res, sy, cd, m, log)
		startCron(ctx, cfg, store, segmentCache, learner, log)
	}

	var httpServer *http.Server
	if cfg.Role == config.RoleAll || cfg.Role == config.RoleAPI {
		limiter := middleware.NewRateLimiter(float64(cfg.RateLimitPerClientBurst), float64(cfg.RateLimitPerClientRPS))
		router := api.NewRouter(&api.Server{
			Manager:   manager,
			Dicts:     dicts,
			Resolver:  res,
			Learner:   learner,
			Cache:     segmentCache,
			Merge:     mergePipeline,
			Metrics:   m,
			Registry:  reg,
			StartedAt: time.Now(),
		}, limiter)

		httpServer = &http.Server{Addr: cfg.HTTPAddr, Handler: router}
		go func() {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("http server failed", zap.Error(err))
			}
		}()
	}

	waitForShutdown(log)
	cancel()

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http shutdown error", zap.Error(err))
		}
	}
	log.Info("shutdown complete")
}

func buildStore(cfg config.Config, rdb *redis.Client) jobstore.Store {
	if rdb != nil {
		return jobstore.NewRedisStore(rdb, cfg.RedisKeyPrefix, time.Duration(cfg.JobsTTLSeconds)*time.Second)
	}
	return jobstore.NewMemoryStore()
}

func buildQueue(cfg config.Config, rdb *redis.Client) queue.Queue {
	if rdb != nil {
		return queue.NewRedisQueue(rdb, cfg.RedisKeyPrefix+":queue")
	}
	return queue.NewLocalQueue(cfg.LocalQueueCapacity)
}

func buildSynthesizer(cfg config.Config) synth.Synthesizer {
	if cfg.SynthBackend == "fishaudio" {
		return synth.NewFishAudioSynthesizer(synth.FishAudioConfig{
			APIKey:      cfg.FishAudioAPIKey,
			ReferenceID: cfg.FishAudioReferenceID,
			Model:       cfg.FishAudioModel,
			SampleRate:  48000,
			Timeout:     cfg.SynthTimeout,
		}, cfg.SpeakerModels)
	}
	return synth.NewHTTPSynthesizer(cfg.SynthesizerURL, cfg.SynthTimeout, cfg.PhonemeModels, cfg.SpeakerModels)
}

func buildLocker(cfg config.Config, rdb *redis.Client) lock.Locker {
	if rdb != nil {
		return lock.NewRedisLocker(rdb, cfg.RedisKeyPrefix+":lock:")
	}
	return lock.NewFileLocker(cfg.TmpDir)
}

func startWorkers(ctx context.Context, cfg config.Config, store jobstore.Store, q queue.Queue, cache *segcache.Cache, res *resolver.Resolver, sy synth.Synthesizer, cd codec.AudioCodec, m *metrics.Metrics, log *zap.Logger) {
	workerCfg := worker.Config{
		MaxRetries:            cfg.SegmentMaxRetries,
		QualityModelID:        cfg.ModelIDQuality,
		MaxConcurrentSegments: cfg.MaxConcurrentSegments,
	}
	for i := 0; i < cfg.MaxWorkers; i++ {
		w := worker.New(store, q, cache, res, sy, cd, m, workerCfg, log)
		go w.Run(ctx)
	}

	sweeper := worker.NewSweeper(store, q, worker.SweepConfig{
		StaleQueuedAbandonedSeconds: int64(cfg.StaleQueuedAbandonedSeconds),
		RequireWorkersForStale:     cfg.StaleQueuedRequireWorkers,
	}, log)
	go sweeper.Run(ctx)
}

func startCron(ctx context.Context, cfg config.Config, store jobstore.Store, segmentCache *segcache.Cache, learner *resolver.Learner, log *zap.Logger) {
	c := cron.New()
	_, err := c.AddFunc(cfg.AutoLearnFlushCron, func() {
		if err := learner.Flush(); err != nil {
			log.Warn("autolearn flush failed", zap.Error(err))
		}
	})
	if err != nil {
		log.Warn("schedule autolearn flush", zap.Error(err))
	}

	_, err = c.AddFunc("@every 10m", func() {
		n := segmentCache.ReapStale(7 * 24 * time.Hour)
		if n > 0 {
			log.Info("segment cache reaped stale entries", zap.Int("count", n), zap.Int("remaining", segmentCache.Len()))
		}
	})
	if err != nil {
		log.Warn("schedule cache reap", zap.Error(err))
	}

	_, err = c.AddFunc("@every 1h", func() {
		n, reapErr := store.ReapExpiredJobs(ctx, time.Duration(cfg.JobsTTLSeconds)*time.Second)
		if reapErr != nil {
			log.Warn("job ttl reap failed", zap.Error(reapErr))
			return
		}
		if n > 0 {
			log.Info("reaped expired jobs", zap.Int("count", n))
		}
	})
	if err != nil {
		log.Warn("schedule job reap", zap.Error(err))
	}

	c.Start()
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
}

func waitForShutdown(log *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("received shutdown signal", zap.String("signal", fmt.Sprint(sig)))
}
