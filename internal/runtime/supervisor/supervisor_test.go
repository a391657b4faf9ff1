package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background(), WithCancelOnError(true))
	s.Go("boom", func(context.Context) error { return errors.New("bad sidecar") })
	s.Go0("waiter", func(ctx context.Context) { <-ctx.Done() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	require.Error(t, err)
	assert.Equal(t, "boom: bad sidecar", err.Error())
	assert.Equal(t, uint64(2), s.Counters().Started)
	assert.Zero(t, s.Counters().Active)
}

func TestGoRecoversPanic(t *testing.T) {
	s := New(context.Background())
	s.Go0("panicky", func(context.Context) { panic("oops") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.ErrorContains(t, s.Stop(ctx), "panic in panicky: oops")
}

func TestGoIgnoresCancellation(t *testing.T) {
	s := New(context.Background())
	s.Go("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.NoError(t, s.Stop(context.Background()))
}

func TestGoRestart(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) < 3 {
			return errors.New("listen failed")
		}
		<-ctx.Done()
		return nil
	}, WithRestartBackoff(time.Millisecond, 2*time.Millisecond))

	require.Eventually(t, func() bool { return runs.Load() == 3 }, time.Second, time.Millisecond)
	assert.NoError(t, s.Stop(context.Background()))
}

func TestGoRestartGivesUp(t *testing.T) {
	s := New(context.Background())
	var runs atomic.Int32
	s.GoRestart("broken", func(context.Context) error {
		runs.Add(1)
		panic("always")
	}, WithRestartBackoff(time.Millisecond, time.Millisecond), WithMaxRestarts(2))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.Wait(ctx)
	assert.ErrorContains(t, err, "broken: panic: always")
	assert.Equal(t, int32(3), runs.Load())
}
