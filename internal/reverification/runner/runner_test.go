package runner

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tokenverif/internal/reverification/service"
	"tokenverif/pkg/requestcontext"
)

type fakeJobs struct {
	scheduled   atomic.Int32
	processed   atomic.Int32
	scheduleErr error
	requestIDs  chan string
}

func (f *fakeJobs) ScheduleJobs(ctx context.Context) (int, error) {
	f.scheduled.Add(1)
	if f.requestIDs != nil {
		f.requestIDs <- requestcontext.RequestID(ctx)
	}
	return 1, f.scheduleErr
}

func (f *fakeJobs) ProcessJobs(context.Context) (*service.BatchResult, error) {
	f.processed.Add(1)
	return &service.BatchResult{Outcomes: map[service.Outcome]int{}}, nil
}

func TestNew(t *testing.T) {
	t.Run("rejects an invalid spec", func(t *testing.T) {
		_, err := New("not a cron spec", &fakeJobs{})
		assert.Error(t, err)
	})

	t.Run("accepts descriptors", func(t *testing.T) {
		_, err := New("@hourly", &fakeJobs{})
		assert.NoError(t, err)
	})
}

func TestRunOnce(t *testing.T) {
	t.Run("runs both phases with a run id", func(t *testing.T) {
		jobs := &fakeJobs{requestIDs: make(chan string, 1)}
		r, err := New("@daily", jobs)
		require.NoError(t, err)

		r.RunOnce(context.Background())

		assert.EqualValues(t, 1, jobs.scheduled.Load())
		assert.EqualValues(t, 1, jobs.processed.Load())
		assert.Contains(t, <-jobs.requestIDs, "reverify-")
	})

	t.Run("processing still runs when scheduling fails", func(t *testing.T) {
		jobs := &fakeJobs{scheduleErr: errors.New("db down")}
		r, err := New("@daily", jobs)
		require.NoError(t, err)

		r.RunOnce(context.Background())
		assert.EqualValues(t, 1, jobs.processed.Load())
	})
}

func TestStartStop(t *testing.T) {
	jobs := &fakeJobs{}
	r, err := New("@every 1s", jobs)
	require.NoError(t, err)

	r.Start()
	assert.Eventually(t, func() bool { return jobs.processed.Load() > 0 }, 3*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NoError(t, r.Stop(ctx))
}
