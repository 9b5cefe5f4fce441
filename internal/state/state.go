package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"assetstore/extractor/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

var ErrJobNotFound = errors.New("job not found")

// JobTracker records the status of batch runs.
type JobTracker interface {
	Create(ctx context.Context, pass domain.Pass) (domain.Job, error)
	Update(ctx context.Context, job domain.Job) error
	Get(ctx context.Context, id string) (domain.Job, error)
	List(ctx context.Context, limit int) ([]domain.Job, error)
}

func newJob(pass domain.Pass) domain.Job {
	return domain.Job{
		ID:        uuid.NewString(),
		Pass:      pass,
		Status:    domain.JobStatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

const (
	jobTTL = 7 * 24 * time.Hour

	// maxIndexedJobs caps the job index list; older ids are trimmed.
	maxIndexedJobs = 1000
)

type redisJobTracker struct {
	redisClient *redis.Client
	keyPrefix   string
	ttl         time.Duration
	maxIndexed  int64
}

// NewRedisJobTracker stores each job as JSON with a TTL and keeps the newest
// ids in a bounded list for listing.
func NewRedisJobTracker(redisClient *redis.Client, keyPrefix string) JobTracker {
	return newRedisJobTracker(redisClient, keyPrefix, jobTTL, maxIndexedJobs)
}

func newRedisJobTracker(redisClient *redis.Client, keyPrefix string, ttl time.Duration, maxIndexed int64) *redisJobTracker {
	return &redisJobTracker{
		redisClient: redisClient,
		keyPrefix:   keyPrefix + "jobs:",
		ttl:         ttl,
		maxIndexed:  maxIndexed,
	}
}

func (s *redisJobTracker) jobKey(id string) string {
	return s.keyPrefix + id
}

func (s *redisJobTracker) indexKey() string {
	return s.keyPrefix + "index"
}

func (s *redisJobTracker) Create(ctx context.Context, pass domain.Pass) (domain.Job, error) {
	job := newJob(pass)

	data, err := json.Marshal(job)
	if err != nil {
		return domain.Job{}, fmt.Errorf("failed to encode job: %w", err)
	}

	pipe := s.redisClient.TxPipeline()
	pipe.Set(ctx, s.jobKey(job.ID), data, s.ttl)
	pipe.LPush(ctx, s.indexKey(), job.ID)
	pipe.LTrim(ctx, s.indexKey(), 0, s.maxIndexed-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Job{}, fmt.Errorf("failed to create job %s: %w", job.ID, err)
	}

	return job, nil
}

func (s *redisJobTracker) Update(ctx context.Context, job domain.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to encode job: %w", err)
	}

	if err := s.redisClient.Set(ctx, s.jobKey(job.ID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to update job %s: %w", job.ID, err)
	}
	return nil
}

func (s *redisJobTracker) Get(ctx context.Context, id string) (domain.Job, error) {
	val, err := s.redisClient.Get(ctx, s.jobKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Job{}, ErrJobNotFound
		}
		return domain.Job{}, fmt.Errorf("failed to get job %s: %w", id, err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(val), &job); err != nil {
		return domain.Job{}, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return job, nil
}

func (s *redisJobTracker) List(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}

	ids, err := s.redisClient.LRange(ctx, s.indexKey(), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(ids))
	for _, id := range ids {
		job, err := s.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// Expired; drop it from the index so it is not looked up again.
			if err := s.redisClient.LRem(ctx, s.indexKey(), 0, id).Err(); err != nil {
				log.Debugf("Failed to prune expired job %s from index: %v", id, err)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

type memoryJobTracker struct {
	mu   sync.RWMutex
	jobs map[string]domain.Job
}

// NewMemoryJobTracker keeps jobs for the lifetime of the process.
func NewMemoryJobTracker() JobTracker {
	return &memoryJobTracker{jobs: make(map[string]domain.Job)}
}

func (s *memoryJobTracker) Create(_ context.Context, pass domain.Pass) (domain.Job, error) {
	job := newJob(pass)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.mu.Unlock()

	return job, nil
}

func (s *memoryJobTracker) Update(_ context.Context, job domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.ID]; !ok {
		return ErrJobNotFound
	}
	s.jobs[job.ID] = job
	return nil
}

func (s *memoryJobTracker) Get(_ context.Context, id string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return job, nil
}

func (s *memoryJobTracker) List(_ context.Context, limit int) ([]domain.Job, error) {
	s.mu.RLock()
	jobs := make([]domain.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Start marks job running.
func Start(ctx context.Context, tracker JobTracker, job domain.Job) (domain.Job, error) {
	now := time.Now().UTC()
	job.Status = domain.JobStatusRunning
	job.StartedAt = &now
	return job, tracker.Update(ctx, job)
}

// Finish records the outcome of job. A non-nil runErr marks it failed.
func Finish(ctx context.Context, tracker JobTracker, job domain.Job, summary domain.Summary, runErr error) (domain.Job, error) {
	now := time.Now().UTC()
	job.Summary = summary
	job.FinishedAt = &now
	job.Status = domain.JobStatusCompleted
	if runErr != nil {
		job.Status = domain.JobStatusFailed
		job.Error = runErr.Error()
	}
	return job, tracker.Update(ctx, job)
}
