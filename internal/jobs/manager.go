// Package jobs implements the job admission and orchestration logic: it
// turns a text submission into chunked, fingerprinted segments, enforces
// admission limits, and exposes the job/segment read paths the API and
// worker packages build on.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid"

	"github.com/pronouncex/ttsjobs/internal/apperr"
	"github.com/pronouncex/ttsjobs/internal/chunk"
	"github.com/pronouncex/ttsjobs/internal/config"
	"github.com/pronouncex/ttsjobs/internal/dict"
	"github.com/pronouncex/ttsjobs/internal/fingerprint"
	"github.com/pronouncex/ttsjobs/internal/jobstore"
	"github.com/pronouncex/ttsjobs/internal/metrics"
	"github.com/pronouncex/ttsjobs/internal/queue"
	"github.com/pronouncex/ttsjobs/internal/resolver"
	"github.com/pronouncex/ttsjobs/internal/segcache"
	"github.com/pronouncex/ttsjobs/internal/textnorm"
)

// Request is one submission's admission-time parameters.
type Request struct {
	Text           string
	ModelID        string
	VoiceID        string
	PreferPhonemes bool
	ReadingProfile any
}

// Limits bounds admission, mirroring the original's per-request and
// per-deployment caps.
type Limits struct {
	MaxTextChars      int
	MaxSegmentsPerJob int
	MaxActiveJobs     int
	ModelAllowlist    []string
	CompilerVersion   string
	PhonemeMode       string
	DefaultProfile    config.ReadingProfile
}

// Manager orchestrates admission: normalize, chunk, fingerprint, then
// persist via the Store and enqueue each segment that still needs
// synthesis for a worker to pick up. Pronunciation is resolved later, by
// the worker.
type Manager struct {
	store      jobstore.Store
	queue      queue.Queue
	dicts      *dict.Store
	resolver   *resolver.Resolver
	cache      *segcache.Cache
	metrics    *metrics.Metrics
	limits     Limits
	chunkOpts  chunk.Options

	mu          sync.Mutex
	activeLocal int
}

func New(store jobstore.Store, q queue.Queue, dicts *dict.Store, res *resolver.Resolver, cache *segcache.Cache, m *metrics.Metrics, limits Limits, chunkOpts chunk.Options) *Manager {
	return &Manager{store: store, queue: q, dicts: dicts, resolver: res, cache: cache, metrics: m, limits: limits, chunkOpts: chunkOpts}
}

func (m *Manager) allowedModel(modelID string) bool {
	if len(m.limits.ModelAllowlist) == 0 {
		return true
	}
	for _, id := range m.limits.ModelAllowlist {
		if id == modelID {
			return true
		}
	}
	return false
}

// Submit admits a job: validates the request, normalizes and chunks the
// text, computes each segment's cache key, and persists the job queued.
// Segments whose cache key already has cached audio start ready; the rest
// start queued and are enqueued for worker pickup before returning.
func (m *Manager) Submit(ctx context.Context, req Request) (*jobstore.Job, error) {
	if req.Text == "" {
		return nil, apperr.New(apperr.CodeInvalidText, 400, "text must not be empty")
	}
	if m.limits.MaxTextChars > 0 && len(req.Text) > m.limits.MaxTextChars {
		return nil, apperr.New(apperr.CodeTooLarge, 413, fmt.Sprintf("text exceeds %d character limit", m.limits.MaxTextChars))
	}
	if !m.allowedModel(req.ModelID) {
		return nil, apperr.New(apperr.CodeModelDisallowed, 400, fmt.Sprintf("model_id %q is not in the allowlist", req.ModelID))
	}

	active, err := m.store.ActiveJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("jobs: active jobs: %w", err)
	}
	if m.limits.MaxActiveJobs > 0 && active >= m.limits.MaxActiveJobs {
		return nil, apperr.New(apperr.CodeCapacity, 429, "too many jobs in flight, try again shortly")
	}

	profile := m.resolveReadingProfile(req.ReadingProfile)

	normalized := textnorm.Normalize(req.Text)
	normalized = textnorm.ApplyQuoteMode(normalized, profile["quote_mode"].(string))
	normalized = textnorm.ApplyAcronymMode(normalized, profile["acronym_mode"].(string))
	normalized = textnorm.ApplyNumberMode(normalized, profile["number_mode"].(string))
	chunks := chunk.ChunkText(normalized, m.chunkOpts)
	if len(chunks) == 0 {
		return nil, apperr.New(apperr.CodeInvalidText, 400, "text produced no synthesizable segments")
	}
	if m.limits.MaxSegmentsPerJob > 0 && len(chunks) > m.limits.MaxSegmentsPerJob {
		return nil, apperr.New(apperr.CodeTooLarge, 413, fmt.Sprintf("text produced %d segments, limit is %d", len(chunks), m.limits.MaxSegmentsPerJob))
	}

	packVersions := m.dicts.Versions()
	jobID := uuid.NewString()
	now := time.Now().UnixMilli()

	job := &jobstore.Job{
		ID:             jobID,
		Status:         jobstore.JobQueued,
		ModelID:        req.ModelID,
		VoiceID:        req.VoiceID,
		ReadingProfile: profile,
		PackVersions:   packVersions,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	phonemeMode := m.limits.PhonemeMode
	if phonemeMode == "" {
		phonemeMode = "ipa"
	}

	for i, seg := range chunks {
		segID, err := gonanoid.Nanoid(12)
		if err != nil {
			return nil, fmt.Errorf("jobs: generate segment id: %w", err)
		}
		key, err := fingerprint.SegmentKey(fingerprint.SegmentKeyInput{
			NormalizedText:  seg.Text,
			ModelID:         req.ModelID,
			VoiceID:         req.VoiceID,
			PackVersions:    packVersions,
			ReadingProfile:  profile,
			CompilerVersion: m.limits.CompilerVersion,
			PhonemeMode:     phonemeMode,
		})
		if err != nil {
			return nil, fmt.Errorf("jobs: segment fingerprint: %w", err)
		}
		// A segment whose cache_key already has cached audio needs no
		// synthesis: mark it ready up front instead of queuing it.
		status := jobstore.SegQueued
		if m.cache != nil {
			if _, _, ok := m.cache.Get(key); ok {
				status = jobstore.SegReady
			}
		}
		job.Segments = append(job.Segments, jobstore.Segment{
			ID:        segID,
			JobID:     jobID,
			Index:     i,
			Text:      seg.Text,
			Status:    status,
			CacheKey:  key,
			ModelID:   req.ModelID,
			VoiceID:   req.VoiceID,
			UpdatedAt: now,
		})
	}

	if err := m.store.SubmitJob(ctx, job); err != nil {
		return nil, fmt.Errorf("jobs: submit: %w", err)
	}
	if _, err := m.store.IncrActiveJobs(ctx, 1); err != nil {
		return nil, fmt.Errorf("jobs: incr active: %w", err)
	}
	m.metrics.JobAdmitted()

	for _, seg := range job.Segments {
		m.metrics.SegmentCreated()
		if seg.Status == jobstore.SegReady {
			continue
		}
		if err := m.queue.Push(ctx, queue.Item{JobID: job.ID, SegmentID: seg.ID}); err != nil {
			return nil, fmt.Errorf("jobs: enqueue segment: %w", err)
		}
	}

	return job, nil
}

var (
	validQuoteModes   = map[string]bool{"normal": true, "tight": true}
	validAcronymModes = map[string]bool{"off": true, "spell": true}
	validNumberModes  = map[string]bool{"cardinal": true, "ordinal": true, "year": true}
)

// resolveReadingProfile merges a request's reading_profile over the
// deployment defaults, clamping numeric knobs to their valid range and
// falling back to the default for any unrecognized enum value. The
// result always carries all five fields so it fingerprints identically
// for two requests that express the same effective profile differently
// (e.g. omitting a field vs. spelling out the default explicitly).
func (m *Manager) resolveReadingProfile(raw any) map[string]any {
	in, _ := raw.(map[string]any)
	defaults := m.limits.DefaultProfile

	rate := floatField(in, "rate", defaults.Rate)
	if rate < 0.8 || rate > 1.2 {
		rate = defaults.Rate
	}
	pauseScale := floatField(in, "pause_scale", defaults.PauseScale)
	if pauseScale < 0.8 || pauseScale > 1.3 {
		pauseScale = defaults.PauseScale
	}

	return map[string]any{
		"rate":         rate,
		"pause_scale":  pauseScale,
		"quote_mode":   enumField(in, "quote_mode", defaults.QuoteMode, validQuoteModes),
		"acronym_mode": enumField(in, "acronym_mode", defaults.AcronymMode, validAcronymModes),
		"number_mode":  enumField(in, "number_mode", defaults.NumberMode, validNumberModes),
	}
}

func floatField(in map[string]any, key string, def float64) float64 {
	v, ok := in[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return def
	}
}

func enumField(in map[string]any, key, def string, valid map[string]bool) string {
	v, ok := in[key]
	if !ok {
		return def
	}
	s, ok := v.(string)
	if !ok || !valid[s] {
		return def
	}
	return s
}

func (m *Manager) Get(ctx context.Context, jobID string) (*jobstore.Job, error) {
	job, err := m.store.GetJob(ctx, jobID)
	if err != nil {
		if err == jobstore.ErrJobNotFound {
			return nil, apperr.New(apperr.CodeNotFound, 404, "job not found")
		}
		return nil, err
	}
	return job, nil
}

// Cancel marks a job canceled. Segments already in_progress are left to
// finish or time out naturally; queued segments are skipped by the
// worker once it observes the canceled status.
func (m *Manager) Cancel(ctx context.Context, jobID string) (*jobstore.Job, error) {
	var final *jobstore.Job
	err := m.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		if j.Status == jobstore.JobComplete || j.Status == jobstore.JobCompleteWithErrors || j.Status == jobstore.JobFailed {
			return apperr.New(apperr.CodeCancelObserved, 409, "job already finished")
		}
		j.Status = jobstore.JobCanceled
		for i := range j.Segments {
			if j.Segments[i].Status == jobstore.SegQueued {
				j.Segments[i].Status = jobstore.SegCanceled
			}
		}
		final = j
		return nil
	})
	if err == jobstore.ErrJobNotFound {
		return nil, apperr.New(apperr.CodeNotFound, 404, "job not found")
	}
	if err != nil {
		return nil, err
	}
	if _, err := m.store.IncrActiveJobs(ctx, -1); err != nil {
		return nil, fmt.Errorf("jobs: decr active: %w", err)
	}
	return final, nil
}

func (m *Manager) StatusSnapshot(ctx context.Context) (jobstore.Snapshot, error) {
	return m.store.StatusSnapshot(ctx)
}

func (m *Manager) QueueLength(ctx context.Context) (int, error) {
	return m.queue.Len(ctx)
}

func (m *Manager) WorkersOnline(ctx context.Context) (int, error) {
	return m.store.WorkersOnline(ctx)
}
