package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "tokenverif/pkg/domain"
)

func TestJobLifecycle(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	t.Run("scheduled job starts and completes", func(t *testing.T) {
		job := NewJob(id.NewTokenID(), now, now)
		require.NoError(t, job.Start(now))
		assert.Equal(t, JobStatusInProgress, job.Status)
		require.NoError(t, job.Complete(JobStatusPassed, 0, "tier VERIFIED", now.Add(time.Minute)))
		assert.Equal(t, JobStatusPassed, job.Status)
		require.NotNil(t, job.CompletedAt)
	})

	t.Run("cannot start twice", func(t *testing.T) {
		job := NewJob(id.NewTokenID(), now, now)
		require.NoError(t, job.Start(now))
		assert.Error(t, job.Start(now))
	})

	t.Run("cannot complete before starting", func(t *testing.T) {
		job := NewJob(id.NewTokenID(), now, now)
		assert.Error(t, job.Complete(JobStatusFailed, 1, "boom", now))
	})

	t.Run("cannot complete into an open state", func(t *testing.T) {
		job := NewJob(id.NewTokenID(), now, now)
		require.NoError(t, job.Start(now))
		assert.Error(t, job.Complete(JobStatusScheduled, 0, "", now))
	})
}

func TestCandidateLastCheckedAt(t *testing.T) {
	approved := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	passed := approved.Add(48 * time.Hour)

	assert.Equal(t, approved, Candidate{ApprovedAt: approved}.LastCheckedAt())
	assert.Equal(t, passed, Candidate{ApprovedAt: approved, LastPassedAt: &passed}.LastCheckedAt())

	stale := approved.Add(-time.Hour)
	assert.Equal(t, approved, Candidate{ApprovedAt: approved, LastPassedAt: &stale}.LastCheckedAt())
}
