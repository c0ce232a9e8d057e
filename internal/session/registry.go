package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/haimerb/iqbts/internal/trading"
)

// ReleaseFunc shuts down a handle. Release is the default.
type ReleaseFunc func(ctx context.Context, logger *slog.Logger, h trading.Handle) ReleaseResult

// Registry maps usernames to their live trading handle. It is safe for
// concurrent use. Operations on one username are serialized so a replaced
// handle is released before its successor is stored; the map lock is never
// held while a handle is released.
type Registry struct {
	mu      sync.Mutex
	handles map[string]trading.Handle
	users   userLocks

	logger  *slog.Logger
	release ReleaseFunc
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger handed to the release function.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithReleaseFunc replaces the release policy.
func WithReleaseFunc(fn ReleaseFunc) Option {
	return func(r *Registry) {
		if fn != nil {
			r.release = fn
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		handles: make(map[string]trading.Handle),
		users:   userLocks{locks: make(map[string]*userLock)},
		logger:  slog.Default(),
		release: Release,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Put registers h for username. A previously registered handle is removed
// and released before h is stored; its release outcome is returned with
// replaced set to true.
func (r *Registry) Put(ctx context.Context, username string, h trading.Handle) (res ReleaseResult, replaced bool) {
	unlock := r.users.lock(username)
	defer unlock()

	r.mu.Lock()
	prev, ok := r.handles[username]
	if ok && prev != h {
		delete(r.handles, username)
	}
	r.mu.Unlock()

	if ok && prev != nil && prev != h {
		r.logger.Info("replacing trading session", slog.String("user", username))
		res = r.release(ctx, r.logger, prev)
	}

	r.mu.Lock()
	r.handles[username] = h
	r.mu.Unlock()

	return res, ok
}

// Get returns the handle registered for username.
func (r *Registry) Get(username string) (trading.Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[username]
	return h, ok
}

// Has reports whether username has a registered handle.
func (r *Registry) Has(username string) bool {
	_, ok := r.Get(username)
	return ok
}

// Remove unregisters and releases the handle for username. It reports
// whether an entry existed.
func (r *Registry) Remove(ctx context.Context, username string) (trading.Handle, bool) {
	unlock := r.users.lock(username)
	defer unlock()

	r.mu.Lock()
	h, ok := r.handles[username]
	delete(r.handles, username)
	r.mu.Unlock()

	if !ok {
		return nil, false
	}
	r.release(ctx, r.logger, h)
	return h, true
}

// Release shuts down a handle that was never registered, using the
// registry's release function.
func (r *Registry) Release(ctx context.Context, h trading.Handle) ReleaseResult {
	return r.release(ctx, r.logger, h)
}

// Len returns the number of registered handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handles)
}

// CloseAll releases every registered handle and empties the registry.
// It returns the number of handles that failed to release.
func (r *Registry) CloseAll(ctx context.Context) int {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]trading.Handle)
	r.mu.Unlock()

	failed := 0
	for user, h := range handles {
		res := r.release(ctx, r.logger, h)
		if res.Err != nil && !res.Released {
			failed++
			r.logger.Warn("trading session not released on shutdown", slog.String("user", user))
		}
	}
	return failed
}

// userLocks hands out one mutex per username, dropped once unused.
type userLocks struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

func (l *userLocks) lock(username string) (unlock func()) {
	l.mu.Lock()
	ul, ok := l.locks[username]
	if !ok {
		ul = &userLock{}
		l.locks[username] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.locks, username)
		}
		l.mu.Unlock()
	}
}
