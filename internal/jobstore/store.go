// Package jobstore defines the job/segment records and the persistence
// interface implemented by both the in-memory single-process backend and
// the Redis-backed multi-worker backend.
package jobstore

import (
	"context"
	"errors"
	"time"
)

type JobStatus string

const (
	JobQueued              JobStatus = "queued"
	JobRunning              JobStatus = "running"
	JobComplete             JobStatus = "complete"
	JobCompleteWithErrors   JobStatus = "complete_with_errors"
	JobCanceled             JobStatus = "canceled"
	JobFailed               JobStatus = "failed"
)

type SegmentStatus string

const (
	SegQueued     SegmentStatus = "queued"
	SegInProgress SegmentStatus = "in_progress"
	SegReady      SegmentStatus = "ready"
	SegError      SegmentStatus = "error"
	SegCanceled   SegmentStatus = "canceled"
)

// Segment is one chunk of a job's text, tracked independently through
// resolution, synthesis, and encoding.
type Segment struct {
	ID        string        `json:"id"`
	JobID     string        `json:"job_id"`
	Index     int           `json:"index"`
	Text      string        `json:"text"`
	Status    SegmentStatus `json:"status"`
	CacheKey  string        `json:"cache_key,omitempty"`
	ModelID   string        `json:"model_id"`
	VoiceID   string        `json:"voice_id"`
	Retries   int           `json:"retries"`
	ErrorCode string        `json:"error_code,omitempty"`

	// ResolvedPhonemes is the segment's text after the resolver's
	// dictionary/fallback substitutions, UsedPhonemes records whether any
	// token was resolved by a pack or the fallback phonemizer, and
	// ResolveSourceCounts tallies how many tokens came from each source
	// (pack name, fallback_espeak, fallback_espeak_memo, or unresolved)
	// for per-job telemetry.
	ResolvedPhonemes    string         `json:"resolved_phonemes,omitempty"`
	UsedPhonemes        bool           `json:"used_phonemes"`
	ResolveSourceCounts map[string]int `json:"resolve_source_counts,omitempty"`

	TimingResolveMs int64 `json:"timing_resolve_ms,omitempty"`
	TimingSynthMs   int64 `json:"timing_synth_ms,omitempty"`
	TimingEncodeMs  int64 `json:"timing_encode_ms,omitempty"`
	TimingTotalMs   int64 `json:"timing_total_ms,omitempty"`

	ClaimedBy      string `json:"claimed_by,omitempty"`
	ClaimExpiresAt int64  `json:"claim_expires_at,omitempty"`
	UpdatedAt      int64  `json:"updated_at"`
}

// Job is a full submission: source text split into ordered segments,
// plus the admission parameters every segment inherits.
type Job struct {
	ID      string    `json:"id"`
	Status  JobStatus `json:"status"`
	ModelID string    `json:"model_id"`
	VoiceID string    `json:"voice_id"`

	ReadingProfile any               `json:"reading_profile,omitempty"`
	PackVersions   map[string]string `json:"pack_versions,omitempty"`

	Segments []Segment `json:"segments"`

	FallbackModelUsage   int    `json:"fallback_model_usage"`
	MergeLockContention  int    `json:"merge_lock_contention"`
	StaleQueuedCancels   int    `json:"stale_queued_cancels"`
	MergedCacheKey       string `json:"merged_cache_key,omitempty"`
	Error                string `json:"error,omitempty"`

	// SegmentsTotal/Ready/Error and ProgressPct are recomputed on every
	// segment status transition (see internal/worker.refreshJobProgress)
	// so clients polling GET /v1/tts/jobs/{id} see live progress without
	// having to count segment statuses themselves.
	SegmentsTotal int     `json:"segments_total"`
	SegmentsReady int     `json:"segments_ready"`
	SegmentsError int     `json:"segments_error"`
	ProgressPct   float64 `json:"progress_pct"`

	CreatedAt int64 `json:"created_at"`
	UpdatedAt int64 `json:"updated_at"`
}

// PauseScale returns the job's admitted pause_scale reading-profile
// value, or 1.0 if the job carries no usable profile. Reading profiles
// are frozen into the job at admission time (internal/jobs.Manager),
// so every segment and the final merge see the same value.
func (j *Job) PauseScale() float64 {
	rp, ok := j.ReadingProfile.(map[string]any)
	if !ok {
		return 1.0
	}
	v, ok := rp["pause_scale"].(float64)
	if !ok {
		return 1.0
	}
	return v
}

// Snapshot is the shape returned by the admin status endpoint.
type Snapshot struct {
	WorkersOnline      int            `json:"workers_online"`
	QueueLen           int            `json:"queue_len"`
	ActiveJobs         int            `json:"active_jobs"`
	RetryCounts        map[string]int `json:"retry_counts"`
	FallbackModelUsage int            `json:"fallback_model_usage"`
	MergeLockContention int           `json:"merge_lock_contention"`
	StaleQueuedCancels int            `json:"stale_queued_cancels"`
}

var (
	ErrJobNotFound       = errors.New("jobstore: job not found")
	ErrSegmentNotFound   = errors.New("jobstore: segment not found")
	ErrConflict          = errors.New("jobstore: concurrent modification, retry")
	ErrConcurrencyLimit  = errors.New("jobstore: max_concurrent_segments reached for this job")
)

// MutateFunc mutates a job in place. Returning an error aborts the
// update without persisting changes.
type MutateFunc func(*Job) error

// Store is the persistence interface every job/segment operation goes
// through, implemented by both the in-memory and Redis backends so the
// manager and worker packages stay backend-agnostic.
type Store interface {
	SubmitJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, jobID string) (*Job, error)
	UpdateJob(ctx context.Context, jobID string, fn MutateFunc) error
	DeleteJob(ctx context.Context, jobID string) error

	Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error
	WorkersOnline(ctx context.Context) (int, error)

	// ClaimSegment claims the segment for workerID, ttl-bounded. If
	// maxConcurrent is positive, the claim is refused with
	// ErrConcurrencyLimit when the job already has that many other live
	// claims (spec §4.4 max_concurrent_segments); 0 means unlimited.
	ClaimSegment(ctx context.Context, jobID, segmentID, workerID string, ttl time.Duration, maxConcurrent int) error
	RefreshClaim(ctx context.Context, jobID, segmentID, workerID string, ttl time.Duration) error
	ReleaseClaim(ctx context.Context, jobID, segmentID string) error
	ClaimAlive(ctx context.Context, jobID, segmentID string) (bool, error)

	IncrActiveJobs(ctx context.Context, delta int) (int, error)
	ActiveJobs(ctx context.Context) (int, error)

	ScanInProgressJobIDs(ctx context.Context) ([]string, error)

	StatusSnapshot(ctx context.Context) (Snapshot, error)

	// ReapExpiredJobs deletes terminal jobs last updated before the cutoff
	// and reports how many were removed. The Redis backend already expires
	// job keys via TTL and treats this as a no-op.
	ReapExpiredJobs(ctx context.Context, olderThan time.Duration) (int, error)
}
