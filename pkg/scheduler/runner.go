// Package scheduler periodically fires registered automations. Registration
// hands back an opaque handle; each tick fires every registration once,
// paced by a rate limiter and guarded by a per-automation lease.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/kaizencorps/stache/pkg/custody"
)

// FireFunc fires one automation.
type FireFunc func(ctx context.Context, automation custody.Key) error

// Options configures a Runner. Zero values take defaults.
type Options struct {
	Interval time.Duration
	// FiresPerSecond bounds how fast a tick works through its registrations.
	FiresPerSecond float64
	Burst          int
	LockTTL        time.Duration
	Locker         Locker
	Logger         *slog.Logger
}

// Runner is the reference custody.Scheduler.
type Runner struct {
	mu       sync.Mutex
	handles  map[string]custody.Key
	byKey    map[custody.Key]string
	interval time.Duration
	lockTTL  time.Duration
	limiter  *rate.Limiter
	locker   Locker
	logger   *slog.Logger
}

var _ custody.Scheduler = (*Runner)(nil)

func NewRunner(opts Options) *Runner {
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Second
	}
	if opts.FiresPerSecond <= 0 {
		opts.FiresPerSecond = 20
	}
	if opts.Burst <= 0 {
		opts.Burst = 5
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = opts.Interval
	}
	if opts.Locker == nil {
		opts.Locker = NewMemoryLocker()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Runner{
		handles:  make(map[string]custody.Key),
		byKey:    make(map[custody.Key]string),
		interval: opts.Interval,
		lockTTL:  opts.LockTTL,
		limiter:  rate.NewLimiter(rate.Limit(opts.FiresPerSecond), opts.Burst),
		locker:   opts.Locker,
		logger:   opts.Logger.With("component", "scheduler"),
	}
}

// Register adds automation to the firing set. Registering the same key again
// returns the existing handle.
func (r *Runner) Register(ctx context.Context, automation custody.Key) (string, error) {
	if automation == "" {
		return "", errors.New("scheduler: empty automation key")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := r.byKey[automation]; ok {
		return h, nil
	}
	h := uuid.NewString()
	r.handles[h] = automation
	r.byKey[automation] = h
	r.logger.InfoContext(ctx, "automation registered", "automation", automation, "handle", h)
	return h, nil
}

// Unregister removes a registration. Unknown handles are ignored.
func (r *Runner) Unregister(ctx context.Context, handle string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.handles[handle]
	if !ok {
		return nil
	}
	delete(r.handles, handle)
	delete(r.byKey, key)
	r.logger.InfoContext(ctx, "automation unregistered", "automation", key, "handle", handle)
	return nil
}

// Registrations returns the registered automation keys in key order.
func (r *Runner) Registrations() []custody.Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]custody.Key, 0, len(r.byKey))
	for k := range r.byKey {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Tick fires every registration once and returns how many fires ran. Fire
// errors are logged, not returned; only context cancellation stops a tick.
func (r *Runner) Tick(ctx context.Context, fire FireFunc) (int, error) {
	fired := 0
	for _, key := range r.Registrations() {
		if err := r.limiter.Wait(ctx); err != nil {
			return fired, err
		}
		release, ok, err := r.locker.Acquire(ctx, string(key), r.lockTTL)
		if err != nil {
			r.logger.WarnContext(ctx, "lock failed", "automation", key, "error", err)
			continue
		}
		if !ok {
			r.logger.DebugContext(ctx, "automation held elsewhere", "automation", key)
			continue
		}

		if err := fire(ctx, key); err != nil {
			r.logger.WarnContext(ctx, "fire failed", "automation", key, "error", err)
		}
		fired++

		if err := release(ctx); err != nil {
			r.logger.WarnContext(ctx, "unlock failed", "automation", key, "error", err)
		}
	}
	return fired, nil
}

// Run ticks every interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context, fire FireFunc) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.InfoContext(ctx, "scheduler started", "interval", r.interval)
	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "scheduler stopped")
			return nil
		case <-ticker.C:
			if _, err := r.Tick(ctx, fire); err != nil && ctx.Err() == nil {
				return err
			}
		}
	}
}
