package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"assetstore/extractor/internal/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return server, client
}

func TestRedisJobTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	server, client := newTestRedis(t)
	tracker := NewRedisJobTracker(client, "test:")

	job, err := tracker.Create(ctx, domain.PassProduct)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.True(t, server.Exists("test:jobs:"+job.ID))
	assert.Equal(t, jobTTL, server.TTL("test:jobs:"+job.ID))

	job, err = Start(ctx, tracker, job)
	require.NoError(t, err)

	job, err = Finish(ctx, tracker, job, domain.Summary{Success: 1, Updated: 1}, errors.New("browser crashed"))
	require.NoError(t, err)

	stored, err := tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, stored.Status)
	assert.Equal(t, "browser crashed", stored.Error)
	assert.Equal(t, domain.PassProduct, stored.Pass)
	assert.Equal(t, 1, stored.Summary.Updated)
	require.NotNil(t, stored.StartedAt)
	require.NotNil(t, stored.FinishedAt)
}

func TestRedisJobTrackerNotFound(t *testing.T) {
	_, client := newTestRedis(t)
	tracker := NewRedisJobTracker(client, "test:")

	_, err := tracker.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestRedisJobTrackerListNewestFirst(t *testing.T) {
	ctx := context.Background()
	_, client := newTestRedis(t)
	tracker := NewRedisJobTracker(client, "test:")

	var ids []string
	for _, pass := range []domain.Pass{domain.PassSearch, domain.PassProduct, domain.PassPublisher} {
		job, err := tracker.Create(ctx, pass)
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}

	jobs, err := tracker.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, ids[2], jobs[0].ID)
	assert.Equal(t, ids[1], jobs[1].ID)
}

func TestRedisJobTrackerTrimsIndex(t *testing.T) {
	ctx := context.Background()
	server, client := newTestRedis(t)
	tracker := newRedisJobTracker(client, "test:", time.Hour, 3)

	for range 5 {
		_, err := tracker.Create(ctx, domain.PassSearch)
		require.NoError(t, err)
	}

	index, err := server.List("test:jobs:index")
	require.NoError(t, err)
	assert.Len(t, index, 3)
}

func TestRedisJobTrackerPrunesExpiredJobs(t *testing.T) {
	ctx := context.Background()
	server, client := newTestRedis(t)
	tracker := newRedisJobTracker(client, "test:", time.Minute, 10)

	old, err := tracker.Create(ctx, domain.PassSearch)
	require.NoError(t, err)

	server.FastForward(2 * time.Minute)

	fresh, err := tracker.Create(ctx, domain.PassThumbnails)
	require.NoError(t, err)

	_, err = tracker.Get(ctx, old.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)

	jobs, err := tracker.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, fresh.ID, jobs[0].ID)

	index, err := server.List("test:jobs:index")
	require.NoError(t, err)
	assert.Equal(t, []string{fresh.ID}, index)
}
