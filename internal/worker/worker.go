// Package worker implements the claim/resolve/synthesize/encode/commit
// loop that turns a queued segment into cached, ready audio, plus the
// heartbeat and stale-job sweep goroutines that keep multi-worker
// deployments self-healing.
package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pronouncex/ttsjobs/internal/apperr"
	"github.com/pronouncex/ttsjobs/internal/codec"
	"github.com/pronouncex/ttsjobs/internal/jobstore"
	"github.com/pronouncex/ttsjobs/internal/metrics"
	"github.com/pronouncex/ttsjobs/internal/queue"
	"github.com/pronouncex/ttsjobs/internal/resolver"
	"github.com/pronouncex/ttsjobs/internal/segcache"
	"github.com/pronouncex/ttsjobs/internal/synth"
)

// fallbackErrorMatches lists the substrings of a transient synth error
// that trigger a retry on the configured quality model instead of the
// segment's original model, matching the original's
// _FALLBACK_ERROR_MATCHES heuristic for recognizing model-specific OOM
// and CUDA failures worth escalating rather than just retrying as-is.
var fallbackErrorMatches = []string{
	"CUDA out of memory",
	"CUDNN_STATUS",
	"an illegal memory access",
	"device-side assert",
}

// Config controls retry caps and lease durations.
type Config struct {
	MaxRetries            int
	ClaimTTL              time.Duration
	ClaimRefresh          time.Duration
	HeartbeatTTL          time.Duration
	HeartbeatInterval     time.Duration
	QualityModelID        string
	PopTimeout            time.Duration
	MaxConcurrentSegments int
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 2
	}
	if c.ClaimTTL <= 0 {
		c.ClaimTTL = 60 * time.Second
	}
	if c.ClaimRefresh <= 0 {
		c.ClaimRefresh = 20 * time.Second
	}
	if c.HeartbeatTTL <= 0 {
		c.HeartbeatTTL = 10 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 2 * time.Second
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = 5 * time.Second
	}
	return c
}

// Worker pulls segment claims off the queue and drives them through
// resolution, synthesis, encoding, and cache commit.
type Worker struct {
	id         string
	store      jobstore.Store
	queue      queue.Queue
	cache      *segcache.Cache
	resolver   *resolver.Resolver
	synth      synth.Synthesizer
	codec      codec.AudioCodec
	metrics    *metrics.Metrics
	cfg        Config
	log        *zap.Logger
}

func New(store jobstore.Store, q queue.Queue, cache *segcache.Cache, res *resolver.Resolver, sy synth.Synthesizer, cd codec.AudioCodec, m *metrics.Metrics, cfg Config, log *zap.Logger) *Worker {
	return &Worker{
		id:       "worker-" + uuid.NewString(),
		store:    store,
		queue:    q,
		cache:    cache,
		resolver: res,
		synth:    sy,
		codec:    cd,
		metrics:  m,
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// Run blocks, draining the queue and sending periodic heartbeats, until
// ctx is canceled.
func (w *Worker) Run(ctx context.Context) {
	go w.heartbeatLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, ok, err := w.queue.Pop(ctx, w.cfg.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Warn("queue pop failed", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		w.processClaim(ctx, item)
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		if err := w.store.Heartbeat(ctx, w.id, w.cfg.HeartbeatTTL); err != nil {
			w.log.Warn("heartbeat failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) processClaim(ctx context.Context, item queue.Item) {
	if err := w.store.ClaimSegment(ctx, item.JobID, item.SegmentID, w.id, w.cfg.ClaimTTL, w.cfg.MaxConcurrentSegments); err != nil {
		if err == jobstore.ErrConflict {
			return // another worker already holds this segment.
		}
		if err == jobstore.ErrConcurrencyLimit {
			// max_concurrent_segments reached for this job; requeue for a
			// later pop instead of dropping the segment on the floor.
			_ = w.queue.Push(ctx, item)
			return
		}
		w.log.Warn("claim failed", zap.String("job_id", item.JobID), zap.Error(err))
		return
	}
	defer w.store.ReleaseClaim(ctx, item.JobID, item.SegmentID)

	claimCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.refreshClaimLoop(claimCtx, item)

	if err := w.processSegment(ctx, item); err != nil {
		w.log.Error("segment processing failed", zap.String("job_id", item.JobID), zap.String("segment_id", item.SegmentID), zap.Error(err))
	}
}

func (w *Worker) refreshClaimLoop(ctx context.Context, item queue.Item) {
	ticker := time.NewTicker(w.cfg.ClaimRefresh)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.store.RefreshClaim(ctx, item.JobID, item.SegmentID, w.id, w.cfg.ClaimTTL); err != nil {
				w.log.Warn("claim refresh lost", zap.String("segment_id", item.SegmentID), zap.Error(err))
				return
			}
		}
	}
}

func (w *Worker) processSegment(ctx context.Context, item queue.Item) error {
	job, err := w.store.GetJob(ctx, item.JobID)
	if err != nil {
		return fmt.Errorf("worker: get job: %w", err)
	}
	if job.Status == jobstore.JobCanceled {
		return nil
	}

	segIdx, seg := findSegment(job, item.SegmentID)
	if seg == nil {
		return apperr.ErrSegmentNotFound
	}
	if seg.Status != jobstore.SegQueued {
		return nil
	}

	markInProgress(w, ctx, job.ID, item.SegmentID)

	if data, meta, ok := w.cache.Get(seg.CacheKey); ok {
		w.metrics.CacheHit()
		return w.commitReady(ctx, job.ID, segIdx, seg, meta.SizeBytes, len(data))
	}
	w.metrics.CacheMiss()

	start := time.Now()
	phonemeText, resolutions, err := w.resolver.Resolve(seg.Text)
	resolveMs := time.Since(start).Milliseconds()
	if err != nil {
		return w.failSegment(ctx, job.ID, item.SegmentID, apperr.CodeResolverUnavail, "resolver_unavailable", err)
	}
	sourceCounts := tallyResolveSources(resolutions)

	modelID := seg.ModelID
	synthStart := time.Now()
	result, err := w.synth.Synthesize(ctx, synth.Request{
		Text:        seg.Text,
		PhonemeText: phonemeText,
		ModelID:     modelID,
		VoiceID:     seg.VoiceID,
	})
	if err != nil && isFallbackWorthy(err) && modelID != w.cfg.QualityModelID && w.cfg.QualityModelID != "" {
		w.recordFallback(ctx, job.ID)
		modelID = w.cfg.QualityModelID
		result, err = w.synth.Synthesize(ctx, synth.Request{
			Text:        seg.Text,
			PhonemeText: phonemeText,
			ModelID:     modelID,
			VoiceID:     seg.VoiceID,
		})
	}
	synthMs := time.Since(synthStart).Milliseconds()
	w.metrics.SynthTimeMs(synthMs)

	if err != nil {
		return w.retryOrFail(ctx, job, item.SegmentID, seg, err)
	}

	encodeStart := time.Now()
	pcm := bytesToInt16(result.PCM)
	audio, err := w.codec.EncodeSegment(pcm, result.SampleRate, result.Channels)
	if err != nil {
		// re-encode through ffmpeg when the codec offers that path.
		if ff, ok := w.codec.(interface {
			EncodeSegmentViaFFmpeg(ctx context.Context, pcm []int16, sampleRate, channels int) ([]byte, error)
		}); ok {
			audio, err = ff.EncodeSegmentViaFFmpeg(ctx, pcm, result.SampleRate, result.Channels)
		}
	}
	encodeMs := time.Since(encodeStart).Milliseconds()
	if err != nil {
		return w.failSegment(ctx, job.ID, item.SegmentID, apperr.CodeCodecFailed, "codec_failed", err)
	}

	if err := w.cache.Put(seg.CacheKey, audio, "audio/ogg"); err != nil {
		return w.failSegment(ctx, job.ID, item.SegmentID, apperr.CodeCacheWriteFailed, "cache_write_failed", err)
	}

	totalMs := resolveMs + synthMs + encodeMs
	return w.commitReadyWithTimings(ctx, job.ID, segIdx, resolveMs, synthMs, encodeMs, totalMs, len(seg.Text), phonemeText, sourceCounts)
}

// tallyResolveSources counts how many tokens each resolver source (pack
// name, fallback_espeak, fallback_espeak_memo, unresolved) contributed,
// for per-segment telemetry on the job record.
func tallyResolveSources(results []resolver.ResolveResult) map[string]int {
	if len(results) == 0 {
		return nil
	}
	counts := make(map[string]int, len(results))
	for _, r := range results {
		counts[r.Source]++
	}
	return counts
}

func markInProgress(w *Worker, ctx context.Context, jobID, segID string) {
	_ = w.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		if j.Status == jobstore.JobQueued {
			j.Status = jobstore.JobRunning
		}
		idx, seg := findSegment(j, segID)
		if seg == nil {
			return apperr.ErrSegmentNotFound
		}
		j.Segments[idx].Status = jobstore.SegInProgress
		return nil
	})
}

// commitCanceled reports whether the job or this specific segment was
// canceled since the worker last read it. Checked inside the commit
// mutator itself (not just once at the top of processSegment) so a
// cancellation racing in right up to the commit still wins instead of
// a segment being marked ready after its job was already canceled.
func commitCanceled(j *jobstore.Job, segIdx int) bool {
	return j.Status == jobstore.JobCanceled || j.Segments[segIdx].Status == jobstore.SegCanceled
}

func (w *Worker) commitReady(ctx context.Context, jobID string, segIdx int, seg *jobstore.Segment, sizeBytes int64, fallbackLen int) error {
	err := w.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		if commitCanceled(j, segIdx) {
			return apperr.ErrJobCanceled
		}
		j.Segments[segIdx].Status = jobstore.SegReady
		j.Segments[segIdx].UpdatedAt = time.Now().UnixMilli()
		maybeFinalizeJob(j)
		refreshJobProgress(j)
		return nil
	})
	if err == apperr.ErrJobCanceled {
		return nil
	}
	return err
}

func (w *Worker) commitReadyWithTimings(ctx context.Context, jobID string, segIdx int, resolveMs, synthMs, encodeMs, totalMs int64, textChars int, resolved string, resolveSources map[string]int) error {
	err := w.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		if commitCanceled(j, segIdx) {
			return apperr.ErrJobCanceled
		}
		seg := &j.Segments[segIdx]
		seg.Status = jobstore.SegReady
		seg.TimingResolveMs = resolveMs
		seg.TimingSynthMs = synthMs
		seg.TimingEncodeMs = encodeMs
		seg.TimingTotalMs = totalMs
		seg.ResolvedPhonemes = resolved
		seg.UsedPhonemes = false
		for src, n := range resolveSources {
			if src != "unresolved" && n > 0 {
				seg.UsedPhonemes = true
			}
		}
		seg.ResolveSourceCounts = resolveSources
		seg.UpdatedAt = time.Now().UnixMilli()
		maybeFinalizeJob(j)
		refreshJobProgress(j)
		return nil
	})
	if err != nil {
		if err == apperr.ErrJobCanceled {
			return nil
		}
		return err
	}
	w.metrics.SegmentCompleted()
	w.metrics.CharsSynthesized(textChars)
	return nil
}

// refreshJobProgress recomputes the job-level segment counters and
// progress percentage from current segment statuses, so GET
// /v1/tts/jobs/{id} always reflects live progress.
func refreshJobProgress(j *jobstore.Job) {
	total := len(j.Segments)
	ready, errored := 0, 0
	for _, s := range j.Segments {
		switch s.Status {
		case jobstore.SegReady:
			ready++
		case jobstore.SegError:
			errored++
		}
	}
	j.SegmentsTotal = total
	j.SegmentsReady = ready
	j.SegmentsError = errored
	if total > 0 {
		j.ProgressPct = float64(ready+errored) / float64(total) * 100
	}
}

func (w *Worker) failSegment(ctx context.Context, jobID, segID string, code apperr.Code, errCode string, cause error) error {
	w.metrics.SegmentErrored()
	return w.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		idx, seg := findSegment(j, segID)
		if seg == nil {
			return apperr.ErrSegmentNotFound
		}
		j.Segments[idx].Status = jobstore.SegError
		j.Segments[idx].ErrorCode = errCode
		j.Segments[idx].UpdatedAt = time.Now().UnixMilli()
		maybeFinalizeJob(j)
		refreshJobProgress(j)
		return nil
	})
}

func (w *Worker) retryOrFail(ctx context.Context, job *jobstore.Job, segID string, seg *jobstore.Segment, cause error) error {
	if seg.Retries+1 > w.cfg.MaxRetries {
		w.metrics.SegmentRetryCapHit()
		return w.failSegment(ctx, job.ID, segID, apperr.CodeRetryCapExceeded, "retry_cap_exceeded", cause)
	}
	w.metrics.SegmentRetried()
	err := w.store.UpdateJob(ctx, job.ID, func(j *jobstore.Job) error {
		idx, s := findSegment(j, segID)
		if s == nil {
			return apperr.ErrSegmentNotFound
		}
		j.Segments[idx].Retries++
		j.Segments[idx].Status = jobstore.SegQueued
		return nil
	})
	if err != nil {
		return err
	}
	return w.queue.Push(ctx, queue.Item{JobID: job.ID, SegmentID: segID})
}

func (w *Worker) recordFallback(ctx context.Context, jobID string) {
	w.metrics.FallbackUsed()
	_ = w.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		j.FallbackModelUsage++
		return nil
	})
}

func isFallbackWorthy(err error) bool {
	msg := err.Error()
	for _, m := range fallbackErrorMatches {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// maybeFinalizeJob transitions a running job to complete or
// complete_with_errors once every segment has reached a terminal state.
func maybeFinalizeJob(j *jobstore.Job) {
	if j.Status != jobstore.JobRunning && j.Status != jobstore.JobQueued {
		return
	}
	hasError := false
	for _, s := range j.Segments {
		switch s.Status {
		case jobstore.SegReady, jobstore.SegCanceled:
			continue
		case jobstore.SegError:
			hasError = true
			continue
		default:
			return // still has work outstanding.
		}
	}
	if hasError {
		j.Status = jobstore.JobCompleteWithErrors
	} else {
		j.Status = jobstore.JobComplete
	}
}

func findSegment(j *jobstore.Job, segID string) (int, *jobstore.Segment) {
	for i := range j.Segments {
		if j.Segments[i].ID == segID {
			return i, &j.Segments[i]
		}
	}
	return -1, nil
}

func bytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(b[2*i]) | int16(b[2*i+1])<<8
	}
	return out
}
