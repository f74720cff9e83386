package auth

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"flowcrm.org/internal/audit"
	"flowcrm.org/internal/kvstore"
	"flowcrm.org/internal/obs"
)

const resourceAuth = "auth"

// Engine orchestrates credential verification, lockout tracking, session
// persistence and audit logging. Construct it with NewEngine; it is safe for
// concurrent use.
type Engine struct {
	dir      UserDirectory
	sessions *SessionStore
	lockout  *LockoutTracker
	auditLog *audit.Log
	verifier SecretVerifier
	now      func() time.Time
	logger   *log.Logger
	limiter  *loginLimiter

	maxAttempts int
	window      time.Duration
	sessionKey  string
}

// Option configures Engine behavior.
type Option func(*Engine) error

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) error {
		if fn != nil {
			e.now = fn
		}
		return nil
	}
}

// WithSecretVerifier selects how stored credentials are compared.
func WithSecretVerifier(v SecretVerifier) Option {
	return func(e *Engine) error {
		if v == nil {
			return errors.New("auth: verifier must not be nil")
		}
		e.verifier = v
		return nil
	}
}

// WithMaxFailedAttempts overrides the lockout threshold.
func WithMaxFailedAttempts(n int) Option {
	return func(e *Engine) error {
		if n <= 0 {
			return errors.New("auth: max failed attempts must be positive")
		}
		e.maxAttempts = n
		return nil
	}
}

// WithLockoutDuration overrides the lockout window.
func WithLockoutDuration(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return errors.New("auth: lockout duration must be positive")
		}
		e.window = d
		return nil
	}
}

// WithSessionKey overrides the storage key for the session record.
func WithSessionKey(key string) Option {
	return func(e *Engine) error {
		e.sessionKey = key
		return nil
	}
}

// WithAuditLog replaces the default audit log (for example to store audit
// entries separately from sessions).
func WithAuditLog(l *audit.Log) Option {
	return func(e *Engine) error {
		if l != nil {
			e.auditLog = l
		}
		return nil
	}
}

// WithLogger overrides where fail-soft problems are reported.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) error {
		if l != nil {
			e.logger = l
		}
		return nil
	}
}

// WithLoginLimiter enables a per-identifier token-bucket throttle in front
// of the lockout check. Throttled calls fail with ErrThrottled and never
// touch lockout counters.
func WithLoginLimiter(perSecond float64, burst int) Option {
	return func(e *Engine) error {
		if perSecond <= 0 || burst <= 0 {
			return errors.New("auth: limiter rate and burst must be positive")
		}
		e.limiter = &loginLimiter{
			buckets: make(map[string]*rate.Limiter),
			limit:   rate.Limit(perSecond),
			burst:   burst,
		}
		return nil
	}
}

// NewEngine constructs the engine over a user directory and a durable store.
// Session, lockout and audit records share the store but never share keys.
func NewEngine(dir UserDirectory, kv kvstore.Store, opts ...Option) (*Engine, error) {
	if dir == nil {
		return nil, errors.New("auth: user directory is required")
	}
	if kv == nil {
		return nil, errors.New("auth: store is required")
	}
	e := &Engine{
		dir:         dir,
		verifier:    PlainVerifier{},
		now:         time.Now,
		logger:      obs.Logger(),
		maxAttempts: DefaultMaxFailedAttempts,
		window:      DefaultLockoutDuration,
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	e.sessions = NewSessionStore(kv, e.sessionKey)
	e.lockout = NewLockoutTracker(kv,
		WithLockoutLimit(e.maxAttempts),
		WithLockoutWindow(e.window),
		WithLockoutClock(e.now),
		WithLockoutLogger(e.logger),
	)
	if e.auditLog == nil {
		e.auditLog = audit.New(kv, audit.WithClock(e.now), audit.WithLogger(e.logger))
	}
	return e, nil
}

// Audit exposes the engine's audit log for reading.
func (e *Engine) Audit() *audit.Log { return e.auditLog }

// Lockout exposes the lockout tracker, mainly for UI messaging.
func (e *Engine) Lockout() *LockoutTracker { return e.lockout }

// Login verifies credentials and establishes a session. Failures are typed
// *Error values; persistence problems after successful verification degrade
// to warnings so a storage outage never rejects a valid login.
func (e *Engine) Login(ctx context.Context, email, secret string) (Principal, error) {
	id := NormalizeEmail(email)

	if e.limiter != nil && !e.limiter.allow(id) {
		return Principal{}, ErrThrottled
	}

	if e.lockout.IsLockedOut(ctx, id) {
		// A lock does not extend itself: no counter increment here.
		mins := e.lockout.RemainingMinutes(ctx, id)
		e.auditLog.Append(ctx, audit.Entry{
			AccountLabel: id,
			Action:       audit.ActionLogin,
			Resource:     resourceAuth,
			Details:      "attempt against locked account",
		})
		obs.LoginAttempt(obs.OutcomeLocked)
		return Principal{}, errLockedOut(mins)
	}

	acc, err := e.dir.FindByEmail(ctx, id)
	if err != nil {
		// Unknown email takes the same path as a wrong secret so responses
		// never reveal whether the account exists.
		return Principal{}, e.failInvalid(ctx, id)
	}
	if err := e.verifier.Verify(acc.Secret, secret); err != nil {
		return Principal{}, e.failInvalid(ctx, id)
	}
	if !acc.Active {
		// Administrative state, not an attack signal: counters untouched.
		e.auditLog.Append(ctx, audit.Entry{
			AccountID:    acc.ID,
			AccountLabel: acc.Name,
			Action:       audit.ActionLogin,
			Resource:     resourceAuth,
			Details:      "inactive account login attempt",
		})
		obs.LoginAttempt(obs.OutcomeInactive)
		return Principal{}, errUserInactive()
	}

	e.lockout.RecordSuccess(ctx, id)
	now := e.now()
	p := Principal{
		AccountID:      acc.ID,
		Name:           acc.Name,
		Email:          acc.Email,
		Permissions:    acc.Permissions.Clone(),
		IssuedAt:       now,
		LastActivityAt: now,
	}
	if err := e.sessions.Save(ctx, p); err != nil {
		obs.StoreFailure("session_save")
		obs.Warn("session persist failed", map[string]any{
			"account_id": acc.ID,
			"error":      err.Error(),
		})
	}
	e.auditLog.Append(ctx, audit.Entry{
		AccountID:    acc.ID,
		AccountLabel: acc.Name,
		Action:       audit.ActionLogin,
		Resource:     resourceAuth,
		Details:      "login successful",
	})
	obs.LoginAttempt(obs.OutcomeSuccess)
	return p, nil
}

func (e *Engine) failInvalid(ctx context.Context, id string) error {
	count := e.lockout.RecordFailure(ctx, id)
	e.auditLog.Append(ctx, audit.Entry{
		AccountLabel: id,
		Action:       audit.ActionLogin,
		Resource:     resourceAuth,
		Details:      "invalid credentials",
	})
	obs.LoginAttempt(obs.OutcomeFailure)

	remaining := e.lockout.Limit() - count
	if remaining <= 0 {
		return errNowLocked(int(e.lockout.Window() / time.Minute))
	}
	return errInvalidCredentials(remaining)
}

// Logout clears the session and records who logged out. Safe to call with no
// active session; store errors are swallowed.
func (e *Engine) Logout(ctx context.Context) {
	p, loadErr := e.sessions.Load(ctx)
	if err := e.sessions.Clear(ctx); err != nil {
		obs.StoreFailure("session_delete")
		obs.Warn("session clear failed", map[string]any{"error": err.Error()})
	}
	if loadErr != nil {
		return
	}
	e.auditLog.Append(ctx, audit.Entry{
		AccountID:    p.AccountID,
		AccountLabel: p.Name,
		Action:       audit.ActionLogout,
		Resource:     resourceAuth,
		Details:      "logout",
	})
}

// RestoreSession loads the persisted principal, or ErrNoSession when none
// exists. It validates the record shape; it does not re-verify credentials.
func (e *Engine) RestoreSession(ctx context.Context) (Principal, error) {
	return e.sessions.Load(ctx)
}

// IsAuthenticated reports whether a valid session record exists.
func (e *Engine) IsAuthenticated(ctx context.Context) bool {
	_, err := e.sessions.Load(ctx)
	return err == nil
}

// Touch refreshes the session's last-activity marker so an external
// inactivity watcher can measure idle time. Best-effort persistence.
func (e *Engine) Touch(ctx context.Context) (Principal, error) {
	p, err := e.sessions.Load(ctx)
	if err != nil {
		return Principal{}, err
	}
	p.LastActivityAt = e.now()
	if err := e.sessions.Save(ctx, p); err != nil {
		obs.StoreFailure("session_save")
		obs.Warn("session touch failed", map[string]any{"error": err.Error()})
	}
	return p, nil
}

// HasPermission evaluates a "namespace.action" permission key for the
// principal.
func (e *Engine) HasPermission(p Principal, key string) bool {
	return HasPermission(p, key)
}

// CanAccessModule reports whether a module is reachable for the principal.
func (e *Engine) CanAccessModule(p Principal, name string) bool {
	return CanAccessModule(p, name)
}

// loginLimiter is a per-identifier token bucket. Identifier count is bounded
// by the directory size in practice; buckets are created lazily.
type loginLimiter struct {
	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	limit   rate.Limit
	burst   int
}

func (l *loginLimiter) allow(id string) bool {
	l.mu.Lock()
	b, ok := l.buckets[id]
	if !ok {
		b = rate.NewLimiter(l.limit, l.burst)
		l.buckets[id] = b
	}
	l.mu.Unlock()
	return b.Allow()
}
