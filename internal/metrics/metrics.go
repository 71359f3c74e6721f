// Package metrics registers and exposes the Prometheus counters/gauges
// the admin and /v1/metrics endpoints report, mirroring the fields the
// original's Metrics/MetricsSnapshot dataclasses tracked.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is a process-wide counter set, safe for concurrent use from
// worker goroutines. Each counter is mirrored into an atomic int64 so
// /v1/admin/status can report exact integer snapshots without reading back
// through the Prometheus client (which only exposes values via the
// scrape/Write path).
type Metrics struct {
	promTotalJobs          prometheus.Counter
	promTotalSegments      prometheus.Counter
	promSegmentRetries     prometheus.Counter
	promSegmentRetryCaps   prometheus.Counter
	promFallbackSegments   prometheus.Counter
	promMergeLockWaits     prometheus.Counter
	promStaleQueuedCancels prometheus.Counter
	promCacheHits          prometheus.Counter
	promCacheMisses        prometheus.Counter
	promSegmentErrors      prometheus.Counter
	promSegmentCompletions prometheus.Counter
	promCharsSynthesized   prometheus.Counter

	totalJobs          atomic.Int64
	totalSegments       atomic.Int64
	segmentRetries      atomic.Int64
	segmentRetryCaps    atomic.Int64
	fallbackSegments    atomic.Int64
	mergeLockWaits      atomic.Int64
	staleQueuedCancels  atomic.Int64
	cacheHits           atomic.Int64
	cacheMisses         atomic.Int64
	segmentErrors       atomic.Int64
	segmentCompletions  atomic.Int64
	charsSynthesized    atomic.Int64
	synthMillis         atomic.Int64
	mergeLockWaitMillis atomic.Int64
	mergeLockWaitMaxMs  atomic.Int64
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		promTotalJobs:          newCounter("pronouncex_total_jobs", "Total jobs admitted."),
		promTotalSegments:      newCounter("pronouncex_total_segments", "Total segments created."),
		promSegmentRetries:     newCounter("pronouncex_segment_retries", "Total segment retry attempts."),
		promSegmentRetryCaps:   newCounter("pronouncex_segment_retry_caps", "Segments that exhausted their retry budget."),
		promFallbackSegments:   newCounter("pronouncex_fallback_segments", "Segments synthesized on the fallback quality model."),
		promMergeLockWaits:     newCounter("pronouncex_merge_lock_waits", "Merge lock acquisitions that had to wait."),
		promStaleQueuedCancels: newCounter("pronouncex_stale_queued_cancels", "Jobs canceled for sitting queued too long with no workers."),
		promCacheHits:          newCounter("pronouncex_cache_hits", "Segment cache hits."),
		promCacheMisses:        newCounter("pronouncex_cache_misses", "Segment cache misses."),
		promSegmentErrors:      newCounter("pronouncex_segment_errors", "Segments that ended in a terminal error."),
		promSegmentCompletions: newCounter("pronouncex_segment_completions", "Segments that completed successfully."),
		promCharsSynthesized:   newCounter("pronouncex_chars_synthesized", "Total characters synthesized."),
	}
	if reg != nil {
		reg.MustRegister(
			m.promTotalJobs, m.promTotalSegments, m.promSegmentRetries, m.promSegmentRetryCaps,
			m.promFallbackSegments, m.promMergeLockWaits, m.promStaleQueuedCancels,
			m.promCacheHits, m.promCacheMisses, m.promSegmentErrors, m.promSegmentCompletions,
			m.promCharsSynthesized,
		)
	}
	return m
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help})
}

func (m *Metrics) JobAdmitted()      { m.promTotalJobs.Inc(); m.totalJobs.Add(1) }
func (m *Metrics) SegmentCreated()   { m.promTotalSegments.Inc(); m.totalSegments.Add(1) }
func (m *Metrics) SegmentRetried()   { m.promSegmentRetries.Inc(); m.segmentRetries.Add(1) }
func (m *Metrics) SegmentRetryCapHit() {
	m.promSegmentRetryCaps.Inc()
	m.segmentRetryCaps.Add(1)
}
func (m *Metrics) FallbackUsed()      { m.promFallbackSegments.Inc(); m.fallbackSegments.Add(1) }
func (m *Metrics) StaleQueuedCanceled() {
	m.promStaleQueuedCancels.Inc()
	m.staleQueuedCancels.Add(1)
}
func (m *Metrics) CacheHit()          { m.promCacheHits.Inc(); m.cacheHits.Add(1) }
func (m *Metrics) CacheMiss()         { m.promCacheMisses.Inc(); m.cacheMisses.Add(1) }
func (m *Metrics) SegmentErrored()    { m.promSegmentErrors.Inc(); m.segmentErrors.Add(1) }
func (m *Metrics) SegmentCompleted()  { m.promSegmentCompletions.Inc(); m.segmentCompletions.Add(1) }
func (m *Metrics) CharsSynthesized(n int) {
	m.promCharsSynthesized.Add(float64(n))
	m.charsSynthesized.Add(int64(n))
}
func (m *Metrics) SynthTimeMs(ms int64) { m.synthMillis.Add(ms) }

// MergeLockWait records a wait duration in milliseconds, tracking both
// the running total (for an average) and the max seen.
func (m *Metrics) MergeLockWait(ms int64) {
	m.promMergeLockWaits.Inc()
	m.mergeLockWaits.Add(1)
	m.mergeLockWaitMillis.Add(ms)
	for {
		cur := m.mergeLockWaitMaxMs.Load()
		if ms <= cur || m.mergeLockWaitMaxMs.CompareAndSwap(cur, ms) {
			break
		}
	}
}

// Snapshot is the plain-struct view read by /v1/admin/status, matching the
// original MetricsSnapshot field set.
type Snapshot struct {
	TotalJobs          int64   `json:"total_jobs"`
	TotalSegments       int64   `json:"total_segments"`
	AvgCharsPerSec       float64 `json:"avg_chars_per_sec"`
	CacheHitRate         float64 `json:"cache_hit_rate"`
	ErrorRate            float64 `json:"error_rate"`
	SegmentRetries       int64   `json:"segment_retries"`
	SegmentRetryCaps     int64   `json:"segment_retry_caps"`
	FallbackModelUsage   int64   `json:"fallback_model_usage"`
	MergeLockWaits       int64   `json:"merge_lock_waits"`
	MergeLockWaitMs      float64 `json:"merge_lock_wait_ms"`
	MergeLockWaitMaxMs   float64 `json:"merge_lock_wait_max_ms"`
	StaleQueuedCancels   int64   `json:"stale_queued_cancels"`
}

func (m *Metrics) Snapshot() Snapshot {
	hits := m.cacheHits.Load()
	misses := m.cacheMisses.Load()
	completions := m.segmentCompletions.Load()
	errorsN := m.segmentErrors.Load()
	waits := m.mergeLockWaits.Load()
	synthSeconds := float64(m.synthMillis.Load()) / 1000.0
	chars := float64(m.charsSynthesized.Load())

	var avgCharsPerSec float64
	if synthSeconds > 0 {
		avgCharsPerSec = chars / synthSeconds
	}
	var cacheHitRate float64
	if hits+misses > 0 {
		cacheHitRate = float64(hits) / float64(hits+misses)
	}
	var errorRate float64
	if completions+errorsN > 0 {
		errorRate = float64(errorsN) / float64(completions+errorsN)
	}
	var avgWaitMs float64
	if waits > 0 {
		avgWaitMs = float64(m.mergeLockWaitMillis.Load()) / float64(waits)
	}

	return Snapshot{
		TotalJobs:          m.totalJobs.Load(),
		TotalSegments:       m.totalSegments.Load(),
		AvgCharsPerSec:      avgCharsPerSec,
		CacheHitRate:        cacheHitRate,
		ErrorRate:           errorRate,
		SegmentRetries:      m.segmentRetries.Load(),
		SegmentRetryCaps:    m.segmentRetryCaps.Load(),
		FallbackModelUsage:  m.fallbackSegments.Load(),
		MergeLockWaits:      waits,
		MergeLockWaitMs:     avgWaitMs,
		MergeLockWaitMaxMs:  float64(m.mergeLockWaitMaxMs.Load()),
		StaleQueuedCancels:  m.staleQueuedCancels.Load(),
	}
}
