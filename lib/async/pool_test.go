package async

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/paygate/errs"
)

func TestNewPoolRejectsZeroWorkers(t *testing.T) {
	_, err := NewPool(0, 1)
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeInvalid))
}

func TestPoolRunsTasksAndDrainsOnShutdown(t *testing.T) {
	p, err := NewPool(1, 16)
	require.NoError(t, err)

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
	require.Equal(t, int32(10), ran.Load())
}

func TestPoolReportsCapacity(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		close(started)
		<-release
		return nil
	}))
	<-started
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return nil }))

	err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.Error(t, err)
	require.True(t, errs.Is(err, errs.CodeUnavailable))

	close(release)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestPoolRejectsAfterClose(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	p.Close()
	p.Close()
	err = p.Submit(context.Background(), func(context.Context) error { return nil })
	require.True(t, errs.Is(err, errs.CodeUnavailable))
}

func TestPoolSurvivesPanicsAndReportsErrors(t *testing.T) {
	var (
		mu       sync.Mutex
		reported []error
	)
	p, err := NewPool(1, 4, WithErrorHandler(func(err error) {
		mu.Lock()
		reported = append(reported, err)
		mu.Unlock()
	}))
	require.NoError(t, err)

	boom := errors.New("boom")
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { panic("bad ack") }))
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error { return boom }))
	var after atomic.Bool
	require.NoError(t, p.Submit(context.Background(), func(context.Context) error {
		after.Store(true)
		return nil
	}))
	require.NoError(t, p.Shutdown(context.Background()))

	require.True(t, after.Load())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, reported, 2)
	require.ErrorIs(t, reported[1], boom)
}

func TestSubmitHonoursCancelledContext(t *testing.T) {
	p, err := NewPool(1, 1)
	require.NoError(t, err)
	defer p.Close()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = p.Submit(ctx, func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.Canceled)
}

func TestFixedDelayDoesNotOverlapRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		running atomic.Int32
		overlap atomic.Bool
		runs    atomic.Int32
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		FixedDelay(ctx, 0, time.Millisecond, func(context.Context) {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			time.Sleep(3 * time.Millisecond)
			running.Add(-1)
			runs.Add(1)
		})
	}()

	require.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	<-done
	require.False(t, overlap.Load())
}

func TestFixedDelayHonoursInitialDelay(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var runs atomic.Int32
	FixedDelay(ctx, time.Hour, time.Millisecond, func(context.Context) { runs.Add(1) })
	require.Zero(t, runs.Load())
}
