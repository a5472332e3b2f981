package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsIntervalJobs(t *testing.T) {
	s := NewScheduler(time.Second)
	var runs atomic.Int32
	require.NoError(t, s.ScheduleInterval("tick", 50*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_FailingJobKeepsRunning(t *testing.T) {
	s := NewScheduler(0)
	var runs atomic.Int32
	require.NoError(t, s.ScheduleInterval("fail", 50*time.Millisecond, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("boom")
	}))
	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_TagsAreUnique(t *testing.T) {
	s := NewScheduler(0)
	noop := func(context.Context) error { return nil }
	require.NoError(t, s.ScheduleInterval("sweep", time.Minute, noop))
	assert.Error(t, s.ScheduleInterval("sweep", time.Minute, noop))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "sweep", jobs[0].Tag)

	require.NoError(t, s.RemoveJob("sweep"))
	assert.Empty(t, s.Jobs())
}

func TestScheduler_StopCancelsContext(t *testing.T) {
	s := NewScheduler(0)
	started := make(chan struct{})
	cancelled := make(chan struct{})
	require.NoError(t, s.ScheduleInterval("block", 20*time.Millisecond, func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
			return nil
		}
		<-ctx.Done()
		close(cancelled)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}
	go s.Stop()
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatal("context not cancelled on stop")
	}
}
