package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pronouncex/ttsjobs/internal/jobstore"
	"github.com/pronouncex/ttsjobs/internal/queue"
)

// SweepConfig controls the stale-job reaper: jobs that have sat queued
// with no workers online for StaleQueuedAbandonedSeconds are canceled
// outright (nothing will ever claim them); in-progress segments whose
// claim has lapsed are requeued for another worker to pick up.
type SweepConfig struct {
	Interval                   time.Duration
	StaleQueuedAbandonedSeconds int64
	RequireWorkersForStale     bool
}

func (c SweepConfig) withDefaults() SweepConfig {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.StaleQueuedAbandonedSeconds <= 0 {
		c.StaleQueuedAbandonedSeconds = 600
	}
	return c
}

// Sweeper periodically scans in-progress jobs and reconciles segments
// whose worker claim has expired without a completion ever landing,
// pushing them back onto the queue, and cancels jobs abandoned long
// enough that no worker will ever pick them up.
type Sweeper struct {
	store jobstore.Store
	queue queue.Queue
	cfg   SweepConfig
	log   *zap.Logger
}

func NewSweeper(store jobstore.Store, q queue.Queue, cfg SweepConfig, log *zap.Logger) *Sweeper {
	return &Sweeper{store: store, queue: q, cfg: cfg.withDefaults(), log: log}
}

func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	ids, err := s.store.ScanInProgressJobIDs(ctx)
	if err != nil {
		s.log.Warn("sweep: scan failed", zap.Error(err))
		return
	}

	workersOnline, err := s.store.WorkersOnline(ctx)
	if err != nil {
		s.log.Warn("sweep: workers online failed", zap.Error(err))
		workersOnline = 1 // fail closed: don't cancel jobs if we can't tell.
	}

	for _, id := range ids {
		s.sweepJob(ctx, id, workersOnline)
	}
}

func (s *Sweeper) sweepJob(ctx context.Context, jobID string, workersOnline int) {
	job, err := s.store.GetJob(ctx, jobID)
	if err != nil {
		return
	}

	if job.Status == jobstore.JobQueued && s.cfg.RequireWorkersForStale && workersOnline == 0 {
		ageSeconds := (time.Now().UnixMilli() - job.CreatedAt) / 1000
		if ageSeconds > s.cfg.StaleQueuedAbandonedSeconds {
			s.cancelAbandoned(ctx, jobID)
			return
		}
	}

	var toRequeue []string
	for _, seg := range job.Segments {
		if seg.Status != jobstore.SegInProgress {
			continue
		}
		alive, err := s.store.ClaimAlive(ctx, jobID, seg.ID)
		if err == nil && !alive {
			toRequeue = append(toRequeue, seg.ID)
		}
	}
	if len(toRequeue) == 0 {
		return
	}

	err = s.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		for _, segID := range toRequeue {
			for i := range j.Segments {
				if j.Segments[i].ID == segID && j.Segments[i].Status == jobstore.SegInProgress {
					j.Segments[i].Status = jobstore.SegQueued
				}
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("sweep: requeue update failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	for _, segID := range toRequeue {
		_ = s.queue.Push(ctx, queue.Item{JobID: jobID, SegmentID: segID})
	}
}

func (s *Sweeper) cancelAbandoned(ctx context.Context, jobID string) {
	err := s.store.UpdateJob(ctx, jobID, func(j *jobstore.Job) error {
		j.Status = jobstore.JobCanceled
		j.StaleQueuedCancels++
		for i := range j.Segments {
			if j.Segments[i].Status == jobstore.SegQueued {
				j.Segments[i].Status = jobstore.SegCanceled
			}
		}
		return nil
	})
	if err != nil {
		s.log.Warn("sweep: cancel abandoned failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	s.store.IncrActiveJobs(ctx, -1)
}
