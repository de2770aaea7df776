// Package decisioncache keeps the compatibility gate's last decision on disk
// so that short-lived processes do not spawn a version probe on every start.
//
// The cache file is shared between processes; reads and writes happen under
// an exclusive file lock next to it.
package decisioncache

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"github.com/rapidsai/ptxcompiler/internal/compat"
	"github.com/rapidsai/ptxcompiler/internal/version"
	"gopkg.in/yaml.v3"
)

var (
	// LockTimeout bounds the wait for another process holding the lock.
	LockTimeout = 30 * time.Second

	// RetryLockPeriod is the period between attempts to acquire the lock.
	RetryLockPeriod = 100 * time.Millisecond
)

// entry is the on-disk form of a decision.
type entry struct {
	Patch       bool              `yaml:"patch"`
	Reason      string            `yaml:"reason"`
	HasVersions bool              `yaml:"hasVersions"`
	Driver      version.Version   `yaml:"driver"`
	Runtime     version.Version   `yaml:"runtime"`
	Directives  compat.Directives `yaml:"directives"`
	DecidedAt   time.Time         `yaml:"decidedAt"`
}

// Cache is a decision cache file.
type Cache struct {
	path   string
	maxAge time.Duration
	now    func() time.Time
}

// DefaultPath returns the cache file under the user's cache directory.
func DefaultPath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to locate user cache directory")
	}
	return filepath.Join(dir, "ptxcompiler", "decision.yaml"), nil
}

// New returns a cache at path, or at DefaultPath if path is empty. Entries
// older than maxAge are ignored; zero keeps them forever.
func New(path string, maxAge time.Duration) (*Cache, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}
	return &Cache{path: path, maxAge: maxAge, now: time.Now}, nil
}

func (c *Cache) Path() string { return c.path }

// Decide returns the cached decision made under the same directives, or runs
// decide and caches its result. Failed probes are never cached, so the next
// process probes again.
func (c *Cache) Decide(ctx context.Context, d compat.Directives, decide func(context.Context) (compat.Decision, error)) (decision compat.Decision, cached bool, err error) {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return compat.Decision{}, false, errors.Wrapf(err, "failed to create cache directory for %q", c.path)
	}

	lockPath := c.path + ".lock"
	lock := flock.New(lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, LockTimeout)
	defer cancel()
	ok, err := lock.TryLockContext(lockCtx, RetryLockPeriod)
	if err != nil || !ok {
		if err == nil {
			err = lockCtx.Err()
		}
		return compat.Decision{}, false, errors.Wrapf(err, "failed to acquire lock %q", lockPath)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil && err == nil {
			err = errors.Wrapf(unlockErr, "failed to unlock %q", lockPath)
		}
	}()

	if e, ok, err := c.load(); err != nil {
		return compat.Decision{}, false, err
	} else if ok && e.Directives == d {
		return e.decision(), true, nil
	}

	decision, err = decide(ctx)
	if err != nil {
		return decision, false, err
	}
	if decision.Err != nil {
		return decision, false, nil
	}
	if err := c.store(newEntry(decision, d, c.now())); err != nil {
		return decision, false, err
	}
	return decision, false, nil
}

// Clear removes the cached decision.
func (c *Cache) Clear() error {
	if err := os.Remove(c.path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to remove %q", c.path)
	}
	return nil
}

func (c *Cache) load() (entry, bool, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return entry{}, false, nil
	}
	if err != nil {
		return entry{}, false, errors.Wrapf(err, "failed to read %q", c.path)
	}
	var e entry
	if err := yaml.Unmarshal(data, &e); err != nil {
		// A corrupt cache is rebuilt rather than reported.
		return entry{}, false, nil
	}
	if c.maxAge > 0 && c.now().Sub(e.DecidedAt) > c.maxAge {
		return entry{}, false, nil
	}
	return e, true, nil
}

func (c *Cache) store(e entry) error {
	data, err := yaml.Marshal(&e)
	if err != nil {
		return errors.Wrap(err, "failed to encode decision")
	}
	tmp, err := os.CreateTemp(filepath.Dir(c.path), filepath.Base(c.path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %q", c.path)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %q", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to write %q", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), c.path), "failed to replace %q", c.path)
}

func newEntry(d compat.Decision, directives compat.Directives, now time.Time) entry {
	return entry{
		Patch:       d.Patch,
		Reason:      string(d.Reason),
		HasVersions: d.HasVersions,
		Driver:      d.Driver,
		Runtime:     d.Runtime,
		Directives:  directives,
		DecidedAt:   now.UTC(),
	}
}

func (e entry) decision() compat.Decision {
	return compat.Decision{
		Patch:       e.Patch,
		Reason:      compat.Reason(e.Reason),
		HasVersions: e.HasVersions,
		Driver:      e.Driver,
		Runtime:     e.Runtime,
	}
}
