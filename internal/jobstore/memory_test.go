package jobstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitAndGetJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := &Job{ID: "j1", Status: JobQueued, Segments: []Segment{{ID: "s1"}}}
	require.NoError(t, s.SubmitJob(ctx, job))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, got.Status)
	require.Len(t, got.Segments, 1)
}

func TestGetJobNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetJob(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestGetJobReturnsDefensiveCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	job := &Job{ID: "j1", Segments: []Segment{{ID: "s1"}}}
	require.NoError(t, s.SubmitJob(ctx, job))

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	got.Segments[0].Status = SegReady

	got2, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, SegmentStatus(""), got2.Segments[0].Status)
}

func TestUpdateJobAppliesMutation(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "j1", Status: JobQueued}))

	err := s.UpdateJob(ctx, "j1", func(j *Job) error {
		j.Status = JobRunning
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobRunning, got.Status)
	assert.NotZero(t, got.UpdatedAt)
}

func TestUpdateJobMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.UpdateJob(context.Background(), "missing", func(j *Job) error { return nil })
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestUpdateJobMutationErrorAbortsWithoutPersisting(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "j1", Status: JobQueued}))

	mutationErr := assert.AnError
	err := s.UpdateJob(ctx, "j1", func(j *Job) error {
		j.Status = JobFailed
		return mutationErr
	})
	assert.ErrorIs(t, err, mutationErr)

	got, err := s.GetJob(ctx, "j1")
	require.NoError(t, err)
	assert.Equal(t, JobQueued, got.Status)
}

func TestClaimSegmentConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", time.Minute, 0))

	err := s.ClaimSegment(ctx, "j1", "s1", "worker-b", time.Minute, 0)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestClaimSegmentSameWorkerReclaims(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", time.Minute, 0))
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", time.Minute, 0))
}

func TestClaimAliveReflectsExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", 10*time.Millisecond, 0))

	alive, err := s.ClaimAlive(ctx, "j1", "s1")
	require.NoError(t, err)
	assert.True(t, alive)

	time.Sleep(20 * time.Millisecond)
	alive, err = s.ClaimAlive(ctx, "j1", "s1")
	require.NoError(t, err)
	assert.False(t, alive)
}

func TestClaimSegmentEnforcesMaxConcurrentPerJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", time.Minute, 1))

	err := s.ClaimSegment(ctx, "j1", "s2", "worker-b", time.Minute, 1)
	assert.ErrorIs(t, err, ErrConcurrencyLimit)

	require.NoError(t, s.ReleaseClaim(ctx, "j1", "s1"))
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s2", "worker-b", time.Minute, 1))
}

func TestClaimSegmentMaxConcurrentIsPerJob(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", time.Minute, 1))
	require.NoError(t, s.ClaimSegment(ctx, "j2", "s1", "worker-b", time.Minute, 1))
}

func TestReleaseClaimAllowsReclaim(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", time.Minute, 0))
	require.NoError(t, s.ReleaseClaim(ctx, "j1", "s1"))
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-b", time.Minute, 0))
}

func TestRefreshClaimRequiresSameWorker(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.ClaimSegment(ctx, "j1", "s1", "worker-a", time.Minute, 0))

	err := s.RefreshClaim(ctx, "j1", "s1", "worker-b", time.Minute)
	assert.ErrorIs(t, err, ErrConflict)

	err = s.RefreshClaim(ctx, "j1", "s1", "worker-a", time.Minute)
	assert.NoError(t, err)
}

func TestIncrAndActiveJobsNeverGoNegative(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	n, err := s.IncrActiveJobs(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.IncrActiveJobs(ctx, -5)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestHeartbeatAndWorkersOnline(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Heartbeat(ctx, "worker-a", 10*time.Millisecond))

	n, err := s.WorkersOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	time.Sleep(20 * time.Millisecond)
	n, err = s.WorkersOnline(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestScanInProgressJobIDs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "j1", Status: JobQueued}))
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "j2", Status: JobRunning}))
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "j3", Status: JobComplete}))

	ids, err := s.ScanInProgressJobIDs(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"j1", "j2"}, ids)
}

func TestReapExpiredJobsOnlyRemovesOldTerminalJobs(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	origNow := nowUnixMilli
	defer func() { nowUnixMilli = origNow }()

	nowUnixMilli = func() int64 { return 1_000_000 }
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "old-done", Status: JobComplete, UpdatedAt: 1_000_000}))
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "running", Status: JobRunning, UpdatedAt: 1_000_000}))
	require.NoError(t, s.SubmitJob(ctx, &Job{ID: "recent-done", Status: JobComplete, UpdatedAt: 1_000_000}))

	nowUnixMilli = func() int64 { return 1_000_000 + (2 * time.Hour).Milliseconds() }
	// bump recent-done's timestamp via UpdateJob so it reflects "now"
	require.NoError(t, s.UpdateJob(ctx, "recent-done", func(j *Job) error { return nil }))

	n, err := s.ReapExpiredJobs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.GetJob(ctx, "old-done")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = s.GetJob(ctx, "running")
	assert.NoError(t, err)

	_, err = s.GetJob(ctx, "recent-done")
	assert.NoError(t, err)
}

func TestStatusSnapshotAggregatesCounters(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.SubmitJob(ctx, &Job{
		ID:                  "j1",
		FallbackModelUsage:  2,
		MergeLockContention: 1,
		StaleQueuedCancels:  3,
		Segments:            []Segment{{ID: "s1", Retries: 2}},
	}))

	snap, err := s.StatusSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.FallbackModelUsage)
	assert.Equal(t, 1, snap.MergeLockContention)
	assert.Equal(t, 3, snap.StaleQueuedCancels)
	assert.Equal(t, 2, snap.RetryCounts["s1"])
}
