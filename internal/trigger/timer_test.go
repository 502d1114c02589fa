package trigger

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerDatetimeFiresOnce(t *testing.T) {
	cfg := ScheduleConfig{
		Mode: ModeDatetime,
		DateTime: time.Now().UTC().Add(100 * time.Millisecond).
			Format(time.RFC3339Nano),
	}

	var fired atomic.Int32
	timer := NewTimer(
		"ws-1", "user-1", cfg,
		func(_ context.Context) (bool, error) {
			return true, nil
		},
		func(_ context.Context, event Event) {
			fired.Add(1)
			require.Equal(t, SourceTimer, event.Source)
			require.Equal(t, "ws-1", event.WorkspaceID)
		},
		testLogger(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		timer.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not exit after datetime fire")
	}

	require.Equal(t, int32(1), fired.Load())
}

func TestTimerRechecksActiveBeforeFiring(t *testing.T) {
	cfg := ScheduleConfig{
		Mode: ModeDatetime,
		DateTime: time.Now().UTC().Add(50 * time.Millisecond).
			Format(time.RFC3339Nano),
	}

	var fired atomic.Int32
	timer := NewTimer(
		"ws-1", "user-1", cfg,
		// The execution was stopped during the sleep.
		func(_ context.Context) (bool, error) {
			return false, nil
		},
		func(_ context.Context, _ Event) {
			fired.Add(1)
		},
		testLogger(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		timer.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not exit for inactive execution")
	}

	require.Equal(t, int32(0), fired.Load())
}

func TestTimerExitsOnCancel(t *testing.T) {
	cfg := ScheduleConfig{
		Mode:  ModeInterval,
		Value: 30,
		Unit:  "minutes",
	}

	timer := NewTimer(
		"ws-1", "user-1", cfg,
		func(_ context.Context) (bool, error) {
			return true, nil
		},
		func(_ context.Context, _ Event) {
			t.Fatal("interval timer fired early")
		},
		testLogger(),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		timer.Run(ctx)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not exit on cancel")
	}
}

func TestTimerExpiredDatetimeNeverFires(t *testing.T) {
	cfg := ScheduleConfig{
		Mode:     ModeDatetime,
		DateTime: "2020-01-01T00:00:00Z",
	}

	timer := NewTimer(
		"ws-1", "user-1", cfg,
		func(_ context.Context) (bool, error) {
			return true, nil
		},
		func(_ context.Context, _ Event) {
			t.Fatal("expired datetime fired")
		},
		testLogger(),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		timer.Run(context.Background())
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not exit for expired schedule")
	}
}
