package worker

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pronouncex/ttsjobs/internal/codec"
	"github.com/pronouncex/ttsjobs/internal/dict"
	"github.com/pronouncex/ttsjobs/internal/jobstore"
	"github.com/pronouncex/ttsjobs/internal/metrics"
	"github.com/pronouncex/ttsjobs/internal/queue"
	"github.com/pronouncex/ttsjobs/internal/resolver"
	"github.com/pronouncex/ttsjobs/internal/segcache"
	"github.com/pronouncex/ttsjobs/internal/synth"
)

type fakeSynth struct {
	calls   int
	err     error
	errOnce bool
	result  synth.Result
}

func (f *fakeSynth) Synthesize(ctx context.Context, req synth.Request) (synth.Result, error) {
	f.calls++
	if f.err != nil && (!f.errOnce || f.calls == 1) {
		return synth.Result{}, f.err
	}
	return f.result, nil
}
func (f *fakeSynth) SupportsPhonemes(string) bool         { return false }
func (f *fakeSynth) SupportsSpeakerSelection(string) bool { return false }

type fakeCodec struct{ encodeErr error }

func (c *fakeCodec) EncodeSegment(pcm []int16, sampleRate, channels int) ([]byte, error) {
	if c.encodeErr != nil {
		return nil, c.encodeErr
	}
	return []byte("encoded-audio"), nil
}
func (c *fakeCodec) ConcatSegments(ctx context.Context, segments []codec.ConcatSegment, outPath string) error {
	return nil
}

func newTestWorker(t *testing.T, store jobstore.Store, sy synth.Synthesizer, cd *fakeCodec, cfg Config) (*Worker, *segcache.Cache) {
	t.Helper()
	cache, err := segcache.New(t.TempDir(), 0, 0)
	require.NoError(t, err)
	dicts := dict.NewStore(t.TempDir())
	require.NoError(t, dicts.LoadAll())
	res := resolver.New(dicts, resolver.DefaultPriority, nil, nil)
	m := metrics.New(prometheus.NewRegistry())
	w := New(store, queue.NewLocalQueue(16), cache, res, sy, cd, m, cfg, zap.NewNop())
	return w, cache
}

func seedJob(t *testing.T, store jobstore.Store, jobID, segID string) {
	t.Helper()
	require.NoError(t, store.SubmitJob(context.Background(), &jobstore.Job{
		ID:     jobID,
		Status: jobstore.JobQueued,
		Segments: []jobstore.Segment{
			{ID: segID, JobID: jobID, Index: 0, Text: "hello world", Status: jobstore.SegQueued, CacheKey: "cachekeydeadbeef"},
		},
	}))
}

func TestProcessSegmentSynthesizesAndCommitsReady(t *testing.T) {
	store := jobstore.NewMemoryStore()
	seedJob(t, store, "job1", "seg1")

	sy := &fakeSynth{result: synth.Result{PCM: []byte{0, 0, 1, 0}, SampleRate: 48000, Channels: 1}}
	cd := &fakeCodec{}
	w, _ := newTestWorker(t, store, sy, cd, Config{})

	err := w.processSegment(context.Background(), queue.Item{JobID: "job1", SegmentID: "seg1"})
	require.NoError(t, err)

	job, err := store.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.SegReady, job.Segments[0].Status)
	assert.Equal(t, jobstore.JobComplete, job.Status)
	assert.Equal(t, 1, sy.calls)
}

func TestProcessSegmentCacheHitSkipsSynthesis(t *testing.T) {
	store := jobstore.NewMemoryStore()
	seedJob(t, store, "job1", "seg1")

	sy := &fakeSynth{}
	cd := &fakeCodec{}
	w, cache := newTestWorker(t, store, sy, cd, Config{})
	require.NoError(t, cache.Put("cachekeydeadbeef", []byte("cached-audio"), "audio/ogg"))

	err := w.processSegment(context.Background(), queue.Item{JobID: "job1", SegmentID: "seg1"})
	require.NoError(t, err)
	assert.Equal(t, 0, sy.calls)

	job, err := store.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.SegReady, job.Segments[0].Status)
}

func TestProcessSegmentRetriesUnderCap(t *testing.T) {
	store := jobstore.NewMemoryStore()
	seedJob(t, store, "job1", "seg1")

	sy := &fakeSynth{err: fmt.Errorf("transient backend hiccup")}
	cd := &fakeCodec{}
	w, _ := newTestWorker(t, store, sy, cd, Config{MaxRetries: 2})

	err := w.processSegment(context.Background(), queue.Item{JobID: "job1", SegmentID: "seg1"})
	require.NoError(t, err)

	job, err := store.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.SegQueued, job.Segments[0].Status)
	assert.Equal(t, 1, job.Segments[0].Retries)
}

func TestProcessSegmentExceedsRetryCapMarksError(t *testing.T) {
	store := jobstore.NewMemoryStore()
	seedJob(t, store, "job1", "seg1")
	require.NoError(t, store.UpdateJob(context.Background(), "job1", func(j *jobstore.Job) error {
		j.Segments[0].Retries = 2
		return nil
	}))

	sy := &fakeSynth{err: fmt.Errorf("still broken")}
	cd := &fakeCodec{}
	w, _ := newTestWorker(t, store, sy, cd, Config{MaxRetries: 2})

	err := w.processSegment(context.Background(), queue.Item{JobID: "job1", SegmentID: "seg1"})
	require.NoError(t, err)

	job, err := store.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.SegError, job.Segments[0].Status)
	assert.Equal(t, "retry_cap_exceeded", job.Segments[0].ErrorCode)
}

func TestProcessSegmentFallsBackOnQualityModel(t *testing.T) {
	store := jobstore.NewMemoryStore()
	seedJob(t, store, "job1", "seg1")

	sy := &fakeSynth{err: fmt.Errorf("CUDA out of memory"), errOnce: true, result: synth.Result{PCM: []byte{0, 0}, SampleRate: 48000, Channels: 1}}
	cd := &fakeCodec{}
	w, _ := newTestWorker(t, store, sy, cd, Config{QualityModelID: "quality-model"})

	err := w.processSegment(context.Background(), queue.Item{JobID: "job1", SegmentID: "seg1"})
	require.NoError(t, err)
	assert.Equal(t, 2, sy.calls)

	job, err := store.GetJob(context.Background(), "job1")
	require.NoError(t, err)
	assert.Equal(t, jobstore.SegReady, job.Segments[0].Status)
	assert.Equal(t, 1, job.FallbackModelUsage)
}

func TestProcessSegmentCanceledJobSkipped(t *testing.T) {
	store := jobstore.NewMemoryStore()
	seedJob(t, store, "job1", "seg1")
	require.NoError(t, store.UpdateJob(context.Background(), "job1", func(j *jobstore.Job) error {
		j.Status = jobstore.JobCanceled
		return nil
	}))

	sy := &fakeSynth{}
	cd := &fakeCodec{}
	w, _ := newTestWorker(t, store, sy, cd, Config{})

	err := w.processSegment(context.Background(), queue.Item{JobID: "job1", SegmentID: "seg1"})
	require.NoError(t, err)
	assert.Equal(t, 0, sy.calls)
}

func TestMaybeFinalizeJobAllReadyCompletes(t *testing.T) {
	j := &jobstore.Job{Status: jobstore.JobRunning, Segments: []jobstore.Segment{{Status: jobstore.SegReady}}}
	maybeFinalizeJob(j)
	assert.Equal(t, jobstore.JobComplete, j.Status)
}

func TestMaybeFinalizeJobWithErrorsCompletesWithErrors(t *testing.T) {
	j := &jobstore.Job{Status: jobstore.JobRunning, Segments: []jobstore.Segment{{Status: jobstore.SegReady}, {Status: jobstore.SegError}}}
	maybeFinalizeJob(j)
	assert.Equal(t, jobstore.JobCompleteWithErrors, j.Status)
}

func TestMaybeFinalizeJobStillPendingLeavesStatus(t *testing.T) {
	j := &jobstore.Job{Status: jobstore.JobRunning, Segments: []jobstore.Segment{{Status: jobstore.SegQueued}}}
	maybeFinalizeJob(j)
	assert.Equal(t, jobstore.JobRunning, j.Status)
}

func TestIsFallbackWorthyMatchesKnownSubstrings(t *testing.T) {
	assert.True(t, isFallbackWorthy(fmt.Errorf("backend: CUDA out of memory at frame 4")))
	assert.False(t, isFallbackWorthy(fmt.Errorf("connection refused")))
}

func TestBytesToInt16LittleEndian(t *testing.T) {
	out := bytesToInt16([]byte{0x01, 0x00, 0xff, 0xff})
	require.Len(t, out, 2)
	assert.Equal(t, int16(1), out[0])
	assert.Equal(t, int16(-1), out[1])
}
