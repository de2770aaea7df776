package decisioncache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rapidsai/ptxcompiler/internal/compat"
	"github.com/rapidsai/ptxcompiler/internal/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var patchDecision = compat.Decision{
	Patch:       true,
	Reason:      compat.ReasonProbed,
	HasVersions: true,
	Driver:      version.Version{Major: 11, Minor: 2},
	Runtime:     version.Version{Major: 11, Minor: 5},
}

type countingDecider struct {
	decision compat.Decision
	err      error
	calls    int
}

func (d *countingDecider) decide(context.Context) (compat.Decision, error) {
	d.calls++
	return d.decision, d.err
}

func newCache(t *testing.T, maxAge time.Duration) *Cache {
	c, err := New(filepath.Join(t.TempDir(), "nested", "decision.yaml"), maxAge)
	require.NoError(t, err)
	return c
}

func TestCache_Decide(t *testing.T) {
	c := newCache(t, time.Hour)
	decider := &countingDecider{decision: patchDecision}
	ctx := context.Background()

	d, cached, err := c.Decide(ctx, compat.Directives{}, decider.decide)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, patchDecision, d)
	assert.FileExists(t, c.Path())

	d, cached, err = c.Decide(ctx, compat.Directives{}, decider.decide)
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, patchDecision, d)
	assert.Equal(t, 1, decider.calls)
}

func TestCache_DirectivesChangeMisses(t *testing.T) {
	c := newCache(t, time.Hour)
	decider := &countingDecider{decision: patchDecision}
	ctx := context.Background()

	_, _, err := c.Decide(ctx, compat.Directives{}, decider.decide)
	require.NoError(t, err)
	_, cached, err := c.Decide(ctx, compat.Directives{Force: true}, decider.decide)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, decider.calls)
}

func TestCache_Expiry(t *testing.T) {
	c := newCache(t, time.Hour)
	now := time.Now()
	c.now = func() time.Time { return now }
	decider := &countingDecider{decision: patchDecision}
	ctx := context.Background()

	_, _, err := c.Decide(ctx, compat.Directives{}, decider.decide)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, cached, err := c.Decide(ctx, compat.Directives{}, decider.decide)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, decider.calls)
}

func TestCache_ProbeFailureNotCached(t *testing.T) {
	c := newCache(t, 0)
	decider := &countingDecider{decision: compat.Decision{Reason: compat.ReasonProbeFailed, Err: errors.New("probe failed")}}
	ctx := context.Background()

	d, cached, err := c.Decide(ctx, compat.Directives{}, decider.decide)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Error(t, d.Err)
	assert.NoFileExists(t, c.Path())
}

func TestCache_DecideError(t *testing.T) {
	c := newCache(t, 0)
	decider := &countingDecider{err: errors.New("host incompatible")}

	_, _, err := c.Decide(context.Background(), compat.Directives{}, decider.decide)
	assert.EqualError(t, err, "host incompatible")
	assert.NoFileExists(t, c.Path())
}

func TestCache_CorruptFileIsRebuilt(t *testing.T) {
	c := newCache(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(c.Path()), 0o755))
	require.NoError(t, os.WriteFile(c.Path(), []byte("patch: [unterminated"), 0o644))
	decider := &countingDecider{decision: patchDecision}

	d, cached, err := c.Decide(context.Background(), compat.Directives{}, decider.decide)
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, patchDecision, d)
}

func TestCache_Clear(t *testing.T) {
	c := newCache(t, 0)
	assert.NoError(t, c.Clear())

	_, _, err := c.Decide(context.Background(), compat.Directives{}, (&countingDecider{decision: patchDecision}).decide)
	require.NoError(t, err)
	require.NoError(t, c.Clear())
	assert.NoFileExists(t, c.Path())
}

func TestCache_LockTimeout(t *testing.T) {
	c := newCache(t, 0)
	require.NoError(t, os.MkdirAll(filepath.Dir(c.Path()), 0o755))

	held := flock.New(c.Path() + ".lock")
	ok, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, ok)
	defer held.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	decider := &countingDecider{decision: patchDecision}
	_, _, err = c.Decide(ctx, compat.Directives{}, decider.decide)
	assert.Error(t, err)
	assert.Zero(t, decider.calls)
}

func TestCache_ConcurrentDecideRunsOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decision.yaml")
	var mu sync.Mutex
	calls := 0
	decide := func(context.Context) (compat.Decision, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond)
		return patchDecision, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := New(path, 0)
			if !assert.NoError(t, err) {
				return
			}
			d, _, err := c.Decide(context.Background(), compat.Directives{}, decide)
			assert.NoError(t, err)
			assert.True(t, d.Patch)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, calls)
}
