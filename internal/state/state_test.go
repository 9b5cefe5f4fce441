package state

import (
	"context"
	"errors"
	"testing"

	"assetstore/extractor/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryJobTrackerLifecycle(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryJobTracker()

	job, err := tracker.Create(ctx, domain.PassSearch)
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, domain.JobStatusPending, job.Status)

	job, err = Start(ctx, tracker, job)
	require.NoError(t, err)
	require.NotNil(t, job.StartedAt)

	summary := domain.Summary{Success: 3, Created: 2, Unchanged: 1}
	job, err = Finish(ctx, tracker, job, summary, nil)
	require.NoError(t, err)

	stored, err := tracker.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, stored.Status)
	assert.Equal(t, summary, stored.Summary)
	assert.NotNil(t, stored.FinishedAt)
}

func TestMemoryJobTrackerFailure(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryJobTracker()

	job, err := tracker.Create(ctx, domain.PassProduct)
	require.NoError(t, err)

	job, err = Finish(ctx, tracker, job, domain.Summary{}, errors.New("browser crashed"))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, job.Status)
	assert.Equal(t, "browser crashed", job.Error)
}

func TestMemoryJobTrackerNotFound(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryJobTracker()

	_, err := tracker.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
	assert.ErrorIs(t, tracker.Update(ctx, domain.Job{ID: "missing"}), ErrJobNotFound)
}

func TestMemoryJobTrackerListLimit(t *testing.T) {
	ctx := context.Background()
	tracker := NewMemoryJobTracker()

	for i := 0; i < 5; i++ {
		_, err := tracker.Create(ctx, domain.PassThumbnails)
		require.NoError(t, err)
	}

	jobs, err := tracker.List(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)
}
