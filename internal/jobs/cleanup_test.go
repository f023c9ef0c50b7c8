package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePurger struct {
	mu      sync.Mutex
	cutoffs []time.Time
	n       int64
	err     error
}

func (f *fakePurger) PurgeExpired(_ context.Context, cutoff time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.n, f.err
}

func (f *fakePurger) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.cutoffs)
}

func TestRunOnce_UsesRetentionCutoff(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	p := &fakePurger{n: 4}
	w := NewTokenCleanup(p, time.Minute, 24*time.Hour, nil)
	w.Now = func() time.Time { return now }

	assert.EqualValues(t, 4, w.RunOnce(context.Background()))
	require.Len(t, p.cutoffs, 1)
	assert.Equal(t, now.Add(-24*time.Hour), p.cutoffs[0])
}

func TestRunOnce_ErrorIsSwallowed(t *testing.T) {
	p := &fakePurger{err: errors.New("db down")}
	w := NewTokenCleanup(p, time.Minute, 0, nil)
	assert.Zero(t, w.RunOnce(context.Background()))
}

func TestNewTokenCleanup_Defaults(t *testing.T) {
	w := NewTokenCleanup(&fakePurger{}, 0, -1, nil)
	assert.Equal(t, DefaultCleanupInterval, w.Interval)
	assert.Equal(t, DefaultRetention, w.Retention)
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	p := &fakePurger{}
	w := NewTokenCleanup(p, 10*time.Millisecond, time.Hour, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return p.calls() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop after cancel")
	}
}
