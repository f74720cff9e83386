package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"flowcrm.org/internal/kvstore"
	"flowcrm.org/internal/obs"
)

const (
	// DefaultMaxFailedAttempts is the failure count that triggers a lockout.
	DefaultMaxFailedAttempts = 5
	// DefaultLockoutDuration is how long an identifier stays locked.
	DefaultLockoutDuration = 15 * time.Minute

	lockoutKeyPrefix = "lockout:"
)

// LockoutTracker counts failed attempts per normalized identifier and
// computes lockout windows. Counters key on the identifier, not the account,
// so unknown emails are throttled the same as real ones.
type LockoutTracker struct {
	kv     kvstore.Store
	max    int
	window time.Duration
	now    func() time.Time
	logger *log.Logger

	// Read-modify-write on one identifier must be serialized, otherwise two
	// concurrent failures can both observe the same count.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// LockoutOption configures a LockoutTracker.
type LockoutOption func(*LockoutTracker)

// WithLockoutLimit overrides the failure threshold.
func WithLockoutLimit(n int) LockoutOption {
	return func(t *LockoutTracker) {
		if n > 0 {
			t.max = n
		}
	}
}

// WithLockoutWindow overrides the lockout duration.
func WithLockoutWindow(d time.Duration) LockoutOption {
	return func(t *LockoutTracker) {
		if d > 0 {
			t.window = d
		}
	}
}

// WithLockoutClock overrides the time source (useful for tests).
func WithLockoutClock(fn func() time.Time) LockoutOption {
	return func(t *LockoutTracker) {
		if fn != nil {
			t.now = fn
		}
	}
}

// WithLockoutLogger overrides where fail-soft store problems are reported.
func WithLockoutLogger(l *log.Logger) LockoutOption {
	return func(t *LockoutTracker) {
		if l != nil {
			t.logger = l
		}
	}
}

// NewLockoutTracker constructs a tracker over the given store.
func NewLockoutTracker(kv kvstore.Store, opts ...LockoutOption) *LockoutTracker {
	t := &LockoutTracker{
		kv:     kv,
		max:    DefaultMaxFailedAttempts,
		window: DefaultLockoutDuration,
		now:    time.Now,
		logger: obs.Logger(),
		locks:  make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Limit returns the configured failure threshold.
func (t *LockoutTracker) Limit() int { return t.max }

// Window returns the configured lockout duration.
func (t *LockoutTracker) Window() time.Duration { return t.window }

// IsLockedOut reports whether the identifier is currently locked. An expired
// lockout is lazily cleared before returning false.
func (t *LockoutTracker) IsLockedOut(ctx context.Context, identifier string) bool {
	id := NormalizeEmail(identifier)
	lk := t.identifierLock(id)
	lk.Lock()
	defer lk.Unlock()

	state, ok := t.load(ctx, id)
	if !ok || state.LockedUntil == nil {
		return false
	}
	if !t.now().Before(*state.LockedUntil) {
		t.clear(ctx, id)
		return false
	}
	return true
}

// RemainingMinutes returns the lockout time left, rounded up to whole
// minutes, or zero when the identifier is not locked.
func (t *LockoutTracker) RemainingMinutes(ctx context.Context, identifier string) int {
	id := NormalizeEmail(identifier)
	lk := t.identifierLock(id)
	lk.Lock()
	defer lk.Unlock()

	state, ok := t.load(ctx, id)
	if !ok || state.LockedUntil == nil {
		return 0
	}
	left := state.LockedUntil.Sub(t.now())
	if left <= 0 {
		t.clear(ctx, id)
		return 0
	}
	return int((left + time.Minute - 1) / time.Minute)
}

// RecordFailure increments the failure counter and returns the new count.
// Crossing the threshold sets the lockout window. An already-expired lockout
// is reset before counting so stale state never inflates the count.
func (t *LockoutTracker) RecordFailure(ctx context.Context, identifier string) int {
	id := NormalizeEmail(identifier)
	lk := t.identifierLock(id)
	lk.Lock()
	defer lk.Unlock()

	state, _ := t.load(ctx, id)
	if state.LockedUntil != nil && !t.now().Before(*state.LockedUntil) {
		state = LockoutState{}
	}
	state.FailedAttempts++
	if state.FailedAttempts >= t.max && state.LockedUntil == nil {
		until := t.now().Add(t.window)
		state.LockedUntil = &until
		obs.Lockout()
	}
	t.save(ctx, id, state)
	return state.FailedAttempts
}

// RecordSuccess clears the failure counter and any lockout unconditionally.
func (t *LockoutTracker) RecordSuccess(ctx context.Context, identifier string) {
	id := NormalizeEmail(identifier)
	lk := t.identifierLock(id)
	lk.Lock()
	defer lk.Unlock()
	t.clear(ctx, id)
}

func (t *LockoutTracker) identifierLock(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	lk, ok := t.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		t.locks[id] = lk
	}
	return lk
}

func (t *LockoutTracker) load(ctx context.Context, id string) (LockoutState, bool) {
	data, err := t.kv.Get(ctx, lockoutKeyPrefix+id)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			obs.StoreFailure("lockout_read")
			t.warn("lockout read failed", id, err)
		}
		return LockoutState{}, false
	}
	var state LockoutState
	if err := json.Unmarshal(data, &state); err != nil {
		t.warn("lockout record corrupt, resetting", id, err)
		t.clear(ctx, id)
		return LockoutState{}, false
	}
	return state, true
}

func (t *LockoutTracker) save(ctx context.Context, id string, state LockoutState) {
	data, err := json.Marshal(state)
	if err != nil {
		t.warn("lockout marshal failed", id, err)
		return
	}
	if err := t.kv.Set(ctx, lockoutKeyPrefix+id, data); err != nil {
		obs.StoreFailure("lockout_write")
		t.warn("lockout write failed", id, err)
	}
}

func (t *LockoutTracker) clear(ctx context.Context, id string) {
	if err := t.kv.Delete(ctx, lockoutKeyPrefix+id); err != nil {
		obs.StoreFailure("lockout_delete")
		t.warn("lockout delete failed", id, err)
	}
}

func (t *LockoutTracker) warn(msg, id string, err error) {
	t.logger.Printf(`{"level":"warn","msg":%q,"identifier":%q,"error":%q}`, msg, id, err.Error())
}
