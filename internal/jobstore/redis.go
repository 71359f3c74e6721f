package jobstore

import (
	"context"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// activeIncLua and activeDecLua keep the cluster-wide active-job counter
// correct under concurrent admission/completion without a separate lock,
// clamping the decrement at zero so a duplicate completion event can
// never drive the counter negative.
const activeIncLua = `
local n = redis.call("INCR", KEYS[1])
return n
`

const activeDecLua = `
local n = redis.call("DECR", KEYS[1])
if tonumber(n) < 0 then
  redis.call("SET", KEYS[1], 0)
  n = 0
end
return n
`

// RedisStore is the multi-worker backend: jobs are JSON blobs at
// "px:job:<id>" with an expiry, claims and heartbeats are "SET EX" keys,
// and job mutation uses WATCH/MULTI/EXEC optimistic concurrency so two
// workers racing to update the same job never silently clobber each
// other.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisStore(rdb *redis.Client, prefix string, jobTTL time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "px"
	}
	return &RedisStore{rdb: rdb, prefix: prefix, ttl: jobTTL}
}

func (s *RedisStore) jobKey(id string) string     { return fmt.Sprintf("%s:job:%s", s.prefix, id) }
func (s *RedisStore) claimKey(j, seg string) string {
	return fmt.Sprintf("%s:claim:%s:%s", s.prefix, j, seg)
}
func (s *RedisStore) hbKey(worker string) string  { return fmt.Sprintf("%s:hb:%s", s.prefix, worker) }
func (s *RedisStore) activeKey() string           { return fmt.Sprintf("%s:active_jobs", s.prefix) }
func (s *RedisStore) inProgressSet() string        { return fmt.Sprintf("%s:jobs:in_progress", s.prefix) }

func (s *RedisStore) SubmitJob(ctx context.Context, job *Job) error {
	data, err := sonic.Marshal(job)
	if err != nil {
		return fmt.Errorf("jobstore: marshal job: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.jobKey(job.ID), data, s.ttl)
	if job.Status == JobQueued || job.Status == JobRunning {
		pipe.SAdd(ctx, s.inProgressSet(), job.ID)
	}
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) GetJob(ctx context.Context, jobID string) (*Job, error) {
	data, err := s.rdb.Get(ctx, s.jobKey(jobID)).Bytes()
	if err == redis.Nil {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: get job: %w", err)
	}
	var job Job
	if err := sonic.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("jobstore: unmarshal job: %w", err)
	}
	return &job, nil
}

// UpdateJob uses WATCH to detect concurrent writers: it re-reads the job
// inside the transaction, applies fn, and only commits if nothing else
// wrote the key in between. Callers that see ErrConflict are expected to
// retry.
func (s *RedisStore) UpdateJob(ctx context.Context, jobID string, fn MutateFunc) error {
	key := s.jobKey(jobID)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return ErrJobNotFound
		}
		if err != nil {
			return err
		}
		var job Job
		if err := sonic.Unmarshal(data, &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			return err
		}
		job.UpdatedAt = time.Now().UnixMilli()
		newData, err := sonic.Marshal(job)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, newData, s.ttl)
			switch job.Status {
			case JobQueued, JobRunning:
				pipe.SAdd(ctx, s.inProgressSet(), job.ID)
			default:
				pipe.SRem(ctx, s.inProgressSet(), job.ID)
			}
			return nil
		})
		return err
	}

	err := s.rdb.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		return ErrConflict
	}
	return err
}

func (s *RedisStore) DeleteJob(ctx context.Context, jobID string) error {
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.jobKey(jobID))
	pipe.SRem(ctx, s.inProgressSet(), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Heartbeat(ctx context.Context, workerID string, ttl time.Duration) error {
	return s.rdb.Set(ctx, s.hbKey(workerID), "1", ttl).Err()
}

func (s *RedisStore) WorkersOnline(ctx context.Context) (int, error) {
	var n int
	iter := s.rdb.Scan(ctx, 0, s.hbKey("*"), 1000).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (s *RedisStore) ClaimSegment(ctx context.Context, jobID, segmentID, workerID string, ttl time.Duration, maxConcurrent int) error {
	key := s.claimKey(jobID, segmentID)
	holder, err := s.rdb.Get(ctx, key).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("jobstore: claim: %w", err)
	}
	if err == nil && holder == workerID {
		return s.rdb.Expire(ctx, key, ttl).Err()
	}

	if maxConcurrent > 0 {
		active, err := s.activeClaimCount(ctx, jobID)
		if err != nil {
			return fmt.Errorf("jobstore: claim: count active: %w", err)
		}
		if active >= maxConcurrent {
			return ErrConcurrencyLimit
		}
	}

	ok, err := s.rdb.SetNX(ctx, key, workerID, ttl).Result()
	if err != nil {
		return fmt.Errorf("jobstore: claim: %w", err)
	}
	if !ok {
		holder, _ := s.rdb.Get(ctx, key).Result()
		if holder == workerID {
			return s.rdb.Expire(ctx, key, ttl).Err()
		}
		return ErrConflict
	}
	return nil
}

// activeClaimCount counts live claim keys for a job. Each claim key
// carries its own TTL, so a plain SCAN only ever sees claims that
// haven't expired, without needing a separate counter to keep in sync.
func (s *RedisStore) activeClaimCount(ctx context.Context, jobID string) (int, error) {
	pattern := fmt.Sprintf("%s:claim:%s:*", s.prefix, jobID)
	n := 0
	iter := s.rdb.Scan(ctx, 0, pattern, 1000).Iterator()
	for iter.Next(ctx) {
		n++
	}
	return n, iter.Err()
}

func (s *RedisStore) RefreshClaim(ctx context.Context, jobID, segmentID, workerID string, ttl time.Duration) error {
	holder, err := s.rdb.Get(ctx, s.claimKey(jobID, segmentID)).Result()
	if err == redis.Nil || holder != workerID {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	return s.rdb.Expire(ctx, s.claimKey(jobID, segmentID), ttl).Err()
}

func (s *RedisStore) ReleaseClaim(ctx context.Context, jobID, segmentID string) error {
	return s.rdb.Del(ctx, s.claimKey(jobID, segmentID)).Err()
}

func (s *RedisStore) ClaimAlive(ctx context.Context, jobID, segmentID string) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.claimKey(jobID, segmentID)).Result()
	if err != nil {
		return false, fmt.Errorf("jobstore: claim alive: %w", err)
	}
	return n > 0, nil
}

func (s *RedisStore) IncrActiveJobs(ctx context.Context, delta int) (int, error) {
	script := activeIncLua
	if delta < 0 {
		script = activeDecLua
	}
	n, err := s.rdb.Eval(ctx, script, []string{s.activeKey()}).Int()
	if err != nil {
		return 0, fmt.Errorf("jobstore: incr active: %w", err)
	}
	return n, nil
}

func (s *RedisStore) ActiveJobs(ctx context.Context) (int, error) {
	n, err := s.rdb.Get(ctx, s.activeKey()).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

func (s *RedisStore) ScanInProgressJobIDs(ctx context.Context) ([]string, error) {
	return s.rdb.SMembers(ctx, s.inProgressSet()).Result()
}

// ReapExpiredJobs is a no-op: job keys already carry a TTL set at
// SubmitJob/UpdateJob time, so Redis expires them on its own.
func (s *RedisStore) ReapExpiredJobs(ctx context.Context, olderThan time.Duration) (int, error) {
	return 0, nil
}

func (s *RedisStore) StatusSnapshot(ctx context.Context) (Snapshot, error) {
	workers, err := s.WorkersOnline(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	active, err := s.ActiveJobs(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	ids, err := s.ScanInProgressJobIDs(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{WorkersOnline: workers, ActiveJobs: active, RetryCounts: map[string]int{}}
	for _, id := range ids {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			continue
		}
		snap.FallbackModelUsage += job.FallbackModelUsage
		snap.MergeLockContention += job.MergeLockContention
		snap.StaleQueuedCancels += job.StaleQueuedCancels
		for _, seg := range job.Segments {
			if seg.Retries > 0 {
				snap.RetryCounts[seg.ID] = seg.Retries
			}
		}
	}
	return snap, nil
}
