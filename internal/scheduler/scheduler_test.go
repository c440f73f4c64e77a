package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestRunInvokesTickUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	var calls int32
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("tick errors are logged, not fatal")
	})

	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run should stop with the context error, got %v", err)
	}
	if atomic.LoadInt32(&calls) < 3 {
		t.Fatalf("expected several ticks, got %d", calls)
	}
}

func TestSlowTickDropsMissedTicks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	var calls, running, overlapped int32
	s := New(Options{Interval: 10 * time.Millisecond}, zerolog.Nop())
	_ = s.Run(ctx, func(ctx context.Context, at time.Time) error {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.StoreInt32(&overlapped, 1)
		}
		defer atomic.AddInt32(&running, -1)
		atomic.AddInt32(&calls, 1)
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
		}
		return nil
	})

	if atomic.LoadInt32(&overlapped) != 0 {
		t.Fatal("ticks must never overlap")
	}
	if n := atomic.LoadInt32(&calls); n > 5 {
		t.Fatalf("missed ticks should be dropped, got %d calls", n)
	}
}

func TestTickTimeoutBoundsTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	deadlines := make(chan bool, 16)
	s := New(Options{Interval: 10 * time.Millisecond, TickTimeout: 5 * time.Millisecond}, zerolog.Nop())
	_ = s.Run(ctx, func(ctx context.Context, at time.Time) error {
		<-ctx.Done()
		select {
		case deadlines <- errors.Is(ctx.Err(), context.DeadlineExceeded):
		default:
		}
		return ctx.Err()
	})

	select {
	case hit := <-deadlines:
		if !hit {
			t.Fatal("tick context should expire with its own deadline")
		}
	default:
		t.Fatal("tick never ran")
	}
}

func TestStartupDelayHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := New(Options{Interval: time.Second, StartupDelay: time.Hour}, zerolog.Nop())
	err := s.Run(ctx, func(ctx context.Context, at time.Time) error {
		t.Fatal("tick should not run")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestNextTickAlignment(t *testing.T) {
	s := New(Options{Interval: 5 * time.Second, AlignToStart: true}, zerolog.Nop())
	now := time.Date(2026, 1, 1, 0, 0, 7, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2026, 1, 1, 0, 0, 10, 0, time.UTC)) {
		t.Fatalf("unexpected aligned tick %s", got)
	}

	s = New(Options{Interval: 5 * time.Second}, zerolog.Nop())
	if got := s.nextTick(now); !got.Equal(now.Add(5 * time.Second)) {
		t.Fatalf("unexpected unaligned tick %s", got)
	}
}
