package headless

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

type countingSleeper struct {
	calls []time.Duration
}

func (s *countingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.calls = append(s.calls, d)
	return ctx.Err()
}

func newTestFetcher(t *testing.T, cfg Config) (*Fetcher, *countingSleeper) {
	t.Helper()
	sleeper := &countingSleeper{}
	f, err := NewChromedp(cfg, sleeper, nil)
	require.NoError(t, err)
	t.Cleanup(f.Close)
	return f, sleeper
}

func TestConfigDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{ElementBackoff: -time.Second}.withDefaults()
	def := DefaultConfig()
	assert.False(t, cfg.Headless)
	assert.Equal(t, def.UserAgent, cfg.UserAgent)
	assert.Equal(t, 1280, cfg.WindowWidth)
	assert.Equal(t, 800, cfg.WindowHeight)
	assert.Equal(t, "body", cfg.RootSelector)
	assert.Equal(t, 5, cfg.ElementAttempts)
	assert.Equal(t, 45*time.Second, cfg.NavigationTimeout)
	assert.Zero(t, cfg.ElementBackoff)
}

func TestNewChromedpRequiresSleeper(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(DefaultConfig(), nil, nil)
	require.Error(t, err)
}

func TestWaitForRootSucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	f, sleeper := newTestFetcher(t, DefaultConfig())
	calls := 0
	probe := func() (string, bool, error) {
		calls++
		if calls < 3 {
			return "", false, nil
		}
		return "<body>ok</body>", true, nil
	}

	html, err := f.waitForRoot(context.Background(), probe)
	require.NoError(t, err)
	assert.Equal(t, "<body>ok</body>", html)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, sleeper.calls)
}

func TestWaitForRootExhaustsBudget(t *testing.T) {
	t.Parallel()

	f, sleeper := newTestFetcher(t, DefaultConfig())
	calls := 0
	probe := func() (string, bool, error) {
		calls++
		return "", false, errors.New("node not found")
	}

	_, err := f.waitForRoot(context.Background(), probe)
	require.ErrorIs(t, err, retrieval.ErrElementNotFound)
	assert.Equal(t, 5, calls)
	assert.Len(t, sleeper.calls, 4)
}

func TestWaitForRootHonorsCancellation(t *testing.T) {
	t.Parallel()

	f, _ := newTestFetcher(t, DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	probe := func() (string, bool, error) {
		calls++
		return "", false, nil
	}

	_, err := f.waitForRoot(ctx, probe)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestAllocatorOptionsIncludeExecPath(t *testing.T) {
	t.Parallel()

	base := allocatorOptions(DefaultConfig())
	withPath := DefaultConfig()
	withPath.ExecPath = "/usr/bin/chromium"
	assert.Len(t, allocatorOptions(withPath), len(base)+1)
}

func TestForwardCancel(t *testing.T) {
	t.Parallel()

	parent, cancelParent := context.WithCancel(context.Background())
	child, cancelChild := context.WithCancel(context.Background())
	defer cancelChild()
	stop := forwardCancel(parent, cancelChild)
	defer stop()

	cancelParent()
	select {
	case <-child.Done():
	case <-time.After(time.Second):
		t.Fatal("child context was not cancelled")
	}
}
