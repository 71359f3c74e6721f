// Package merge implements the per-job merge pipeline: once every
// segment is ready, concatenate them in order into one audio file,
// guarded by a per-job lock so two concurrent requests for the same
// job's merged audio never race on the output file, and cached by a
// fingerprint so a repeat request with no segment changes skips
// re-encoding entirely.
package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/bytedance/sonic"

	"github.com/pronouncex/ttsjobs/internal/apperr"
	"github.com/pronouncex/ttsjobs/internal/codec"
	"github.com/pronouncex/ttsjobs/internal/fingerprint"
	"github.com/pronouncex/ttsjobs/internal/jobstore"
	"github.com/pronouncex/ttsjobs/internal/lock"
	"github.com/pronouncex/ttsjobs/internal/metrics"
	"github.com/pronouncex/ttsjobs/internal/segcache"
)

// Default inter-segment silence durations (ms), scaled by the job's
// pause_scale. Period/!/? get a long pause, comma/semicolon/colon a
// short one, everything else a micro breath. Skipped (errored/
// canceled) segments are stood in for with a short silence so the
// merged track doesn't simply drop their runtime.
const (
	silenceLongMs    = 350
	silenceShortMs   = 150
	silenceMicroMs   = 60
	silenceSkippedMs = 150
)

type sidecarMeta struct {
	Fingerprint string `json:"fingerprint"`
}

// Pipeline merges a job's ready segments into one audio file under
// OutputDir, named by the merge fingerprint so two jobs with identical
// segment cache keys and pause_scale share one merged file.
type Pipeline struct {
	store     jobstore.Store
	cache     *segcache.Cache
	codec     codec.AudioCodec
	locker    lock.Locker
	metrics   *metrics.Metrics
	outputDir string
	lockWait  time.Duration
	lockTTL   time.Duration
}

func New(store jobstore.Store, cache *segcache.Cache, cd codec.AudioCodec, locker lock.Locker, m *metrics.Metrics, outputDir string) *Pipeline {
	return &Pipeline{
		store:     store,
		cache:     cache,
		codec:     cd,
		locker:    locker,
		metrics:   m,
		outputDir: outputDir,
		lockWait:  10 * time.Second,
		lockTTL:   60 * time.Second,
	}
}

// Merge returns the path to the job's merged audio file, building or
// rebuilding it as needed. Callers must check job readiness (all
// segments terminal) before calling this.
func (p *Pipeline) Merge(ctx context.Context, job *jobstore.Job) (string, error) {
	fp := p.mergeFingerprint(job)
	outPath := filepath.Join(p.outputDir, fp+".ogg")
	metaPath := outPath + ".meta.json"

	if cached, ok := p.cachedMatch(outPath, metaPath, fp); ok {
		return cached, nil
	}

	waitStart := time.Now()
	release, err := p.locker.Acquire(ctx, "merge:"+job.ID, p.lockWait, p.lockTTL)
	if err != nil {
		if err == lock.ErrLockTimeout {
			return "", apperr.New(apperr.CodeMergeLockTimeout, 503, "merge lock busy, try again shortly")
		}
		return "", fmt.Errorf("merge: acquire lock: %w", err)
	}
	defer release()
	if waited := time.Since(waitStart); waited > 10*time.Millisecond {
		p.metrics.MergeLockWait(waited.Milliseconds())
		_ = p.store.UpdateJob(ctx, job.ID, func(j *jobstore.Job) error {
			j.MergeLockContention++
			return nil
		})
	}

	// Re-check under the lock: another holder may have just finished.
	if cached, ok := p.cachedMatch(outPath, metaPath, fp); ok {
		return cached, nil
	}

	concatItems, cleanup, err := p.materializeSegments(job)
	if err != nil {
		return "", err
	}
	defer cleanup()

	if err := os.MkdirAll(p.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("merge: mkdir: %w", err)
	}
	if err := p.codec.ConcatSegments(ctx, concatItems, outPath); err != nil {
		return "", fmt.Errorf("merge: concat: %w", err)
	}
	if err := writeSidecar(metaPath, fp); err != nil {
		return "", fmt.Errorf("merge: write sidecar: %w", err)
	}
	return outPath, nil
}

func (p *Pipeline) cachedMatch(outPath, metaPath, fp string) (string, bool) {
	if _, err := os.Stat(outPath); err != nil {
		return "", false
	}
	data, err := os.ReadFile(metaPath)
	if err != nil {
		return "", false
	}
	var m sidecarMeta
	if err := sonic.Unmarshal(data, &m); err != nil {
		return "", false
	}
	if m.Fingerprint != fp {
		return "", false
	}
	return outPath, true
}

func writeSidecar(path, fp string) error {
	data, err := sonic.Marshal(sidecarMeta{Fingerprint: fp})
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// materializeSegments writes each ready segment's cached audio to a temp
// file in job order, pairing each with the silence gap that follows it
// (period: long, comma/semicolon/colon: short, otherwise: micro, all
// scaled by the job's pause_scale). Segments with no cached audio
// (errored/canceled) are represented by a short silence stand-in
// instead of being dropped outright.
func (p *Pipeline) materializeSegments(job *jobstore.Job) ([]codec.ConcatSegment, func(), error) {
	dir, err := os.MkdirTemp("", "ttsjobs-merge-*")
	if err != nil {
		return nil, func() {}, fmt.Errorf("merge: tempdir: %w", err)
	}
	cleanup := func() { os.RemoveAll(dir) }

	pauseScale := job.PauseScale()
	lastIdx := -1
	for i, seg := range job.Segments {
		if seg.Status == jobstore.SegReady {
			lastIdx = i
		}
	}

	var hasAudio bool
	var items []codec.ConcatSegment
	for i, seg := range job.Segments {
		gap := 0
		if i != lastIdx {
			gap = scaledGapMs(gapForText(seg.Text), pauseScale)
		}
		if seg.Status != jobstore.SegReady {
			items = append(items, codec.ConcatSegment{SilenceMs: scaledGapMs(silenceSkippedMs, pauseScale), GapAfterMs: gap})
			continue
		}
		data, _, ok := p.cache.Get(seg.CacheKey)
		if !ok {
			items = append(items, codec.ConcatSegment{SilenceMs: scaledGapMs(silenceSkippedMs, pauseScale), GapAfterMs: gap})
			continue
		}
		path := filepath.Join(dir, fmt.Sprintf("%04d_%s.ogg", seg.Index, seg.ID))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			cleanup()
			return nil, func() {}, fmt.Errorf("merge: write segment: %w", err)
		}
		hasAudio = true
		items = append(items, codec.ConcatSegment{Path: path, GapAfterMs: gap})
	}
	if !hasAudio {
		cleanup()
		return nil, func() {}, fmt.Errorf("merge: job %s has no ready segments", job.ID)
	}
	return items, cleanup, nil
}

// gapForText classifies a segment's trailing punctuation into a base
// silence duration (ms), before pause_scale is applied.
func gapForText(text string) int {
	r, _ := utf8.DecodeLastRuneInString(trimTrailingSpace(text))
	switch r {
	case '.', '!', '?':
		return silenceLongMs
	case ',', ';', ':':
		return silenceShortMs
	default:
		return silenceMicroMs
	}
}

func trimTrailingSpace(s string) string {
	i := len(s)
	for i > 0 {
		r, size := utf8.DecodeLastRuneInString(s[:i])
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			break
		}
		i -= size
	}
	return s[:i]
}

func scaledGapMs(base int, pauseScale float64) int {
	if pauseScale <= 0 {
		pauseScale = 1.0
	}
	return int(float64(base) * pauseScale)
}

func (p *Pipeline) mergeFingerprint(job *jobstore.Job) string {
	keys := make([]string, 0, len(job.Segments))
	for _, seg := range job.Segments {
		keys = append(keys, seg.CacheKey)
	}
	return fingerprint.MergeKey(fingerprint.MergeKeyInput{
		SegmentCacheKeys: keys,
		PauseScale:       job.PauseScale(),
	})
}
