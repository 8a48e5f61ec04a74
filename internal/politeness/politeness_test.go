package politeness

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	require.Equal(t, defaultMinDelay, l.cfg.MinDelay)
	require.Equal(t, defaultMaxDelay, l.cfg.MaxDelay)

	l = New(Config{Disabled: true, MinDelay: time.Second})
	require.Zero(t, l.cfg.MinDelay)
	require.Zero(t, l.cfg.MaxDelay)

	l = New(Config{MinDelay: 3 * time.Second, MaxDelay: time.Second})
	require.Equal(t, 3*time.Second, l.cfg.MaxDelay)
}

func TestWaitHonorsCrawlDelayPerOrigin(t *testing.T) {
	t.Parallel()

	l := New(Config{Disabled: true})
	ctx := context.Background()
	const delay = 80 * time.Millisecond

	require.NoError(t, l.Wait(ctx, "https://a.test/one", delay))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.test/one", delay))
	require.Less(t, time.Since(start), delay/2, "other origins are not delayed")

	require.NoError(t, l.Wait(ctx, "https://a.test/two", delay))
	require.GreaterOrEqual(t, time.Since(start), delay-10*time.Millisecond)
}

func TestWaitAppliesJitter(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})
	var mu sync.Mutex
	var bounds [][2]time.Duration
	l.jitter = func(lo, hi time.Duration) time.Duration {
		mu.Lock()
		defer mu.Unlock()
		bounds = append(bounds, [2]time.Duration{lo, hi})
		return 40 * time.Millisecond
	}
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://a.test/", 0))
	require.Less(t, time.Since(start), 20*time.Millisecond, "first dispatch is immediate")

	require.NoError(t, l.Wait(ctx, "https://a.test/next", 0))
	require.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	require.Equal(t, [][2]time.Duration{
		{time.Millisecond, 2 * time.Millisecond},
		{time.Millisecond, 2 * time.Millisecond},
	}, bounds)
}

func TestWaitSpacesConcurrentCallersOnOneOrigin(t *testing.T) {
	t.Parallel()

	const gap = 60 * time.Millisecond
	l := New(Config{MinDelay: gap, MaxDelay: gap})
	ctx := context.Background()

	var (
		mu       sync.Mutex
		released []time.Time
		wg       sync.WaitGroup
	)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Wait(ctx, "https://ex.test/p", 0))
			mu.Lock()
			released = append(released, time.Now())
			mu.Unlock()
		}()
	}
	// Another origin is not held back by the queue on ex.test.
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://other.test/p", 0))
	require.Less(t, time.Since(start), gap/2)
	wg.Wait()

	require.Len(t, released, 3)
	sort.Slice(released, func(i, j int) bool { return released[i].Before(released[j]) })
	for i := 1; i < len(released); i++ {
		require.GreaterOrEqual(t, released[i].Sub(released[i-1]), gap-10*time.Millisecond)
	}
}

func TestWaitCanceled(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Hour, MaxDelay: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://a.test/", 0))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, l.Wait(ctx, "https://a.test/again", 0), context.DeadlineExceeded)

	done, stop := context.WithCancel(context.Background())
	stop()
	require.ErrorIs(t, l.Wait(done, "https://b.test/", 0), context.Canceled)
}

func TestUniform(t *testing.T) {
	t.Parallel()

	require.Equal(t, time.Second, uniform(time.Second, time.Second))
	for i := 0; i < 100; i++ {
		d := uniform(10*time.Millisecond, 20*time.Millisecond)
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.Less(t, d, 20*time.Millisecond)
	}
}

func TestBlocker(t *testing.T) {
	t.Parallel()

	b := NewBlocker(2)
	require.False(t, b.IsBlocked("https://a.test"))
	require.False(t, b.MarkRefused("https://a.test"))
	require.True(t, b.MarkRefused("https://a.test"))
	require.True(t, b.IsBlocked("HTTPS://A.TEST"))
	require.False(t, b.IsBlocked(""))
	require.False(t, b.MarkRefused(""))
}

func TestHostList(t *testing.T) {
	t.Parallel()

	require.Nil(t, NewHostList(nil))
	require.Nil(t, NewHostList([]string{" ", "*."}))

	var empty *HostList
	require.False(t, empty.Contains("anything"))

	hl := NewHostList([]string{"ads.example.org", "*.tracker.test", ".cdn.test"})
	cases := map[string]bool{
		"ads.example.org":     true,
		"sub.ads.example.org": false,
		"tracker.test":        true,
		"x.y.tracker.test":    true,
		"img.cdn.test":        true,
		"example.com":         false,
		"":                    false,
	}
	for host, want := range cases {
		require.Equal(t, want, hl.Contains(host), host)
	}
}
