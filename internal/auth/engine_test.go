package auth

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"

	"flowcrm.org/internal/kvstore"
)

func testAccount() Account {
	return Account{
		Name:   "Ada",
		Email:  "a@x.com",
		Secret: "s1",
		Active: true,
		Permissions: PermissionGrant{
			Modules:  map[ModuleName]bool{ModuleProducts: true},
			Presales: PresaleGrant{CanViewOwn: true},
		},
	}
}

func newTestEngine(t *testing.T, kv kvstore.Store, opts ...Option) (*Engine, *MemoryDirectory) {
	t.Helper()
	dir := NewMemoryDirectory()
	dir.Add(testAccount())
	e, err := NewEngine(dir, kv, opts...)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, dir
}

func TestLoginSuccessAndRestore(t *testing.T) {
	now, _ := testClock(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv, WithClock(now))
	ctx := context.Background()

	p, err := e.Login(ctx, "A@X.com ", "s1")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if p.Email != "a@x.com" || p.Name != "Ada" || p.AccountID == "" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	if !p.IssuedAt.Equal(now()) {
		t.Fatalf("issuedAt %v, want %v", p.IssuedAt, now())
	}

	restored, err := e.RestoreSession(ctx)
	if err != nil {
		t.Fatalf("RestoreSession: %v", err)
	}
	if restored.AccountID != p.AccountID || restored.Email != p.Email {
		t.Fatalf("restored principal differs: %+v vs %+v", restored, p)
	}
	if !reflect.DeepEqual(restored.Permissions, p.Permissions) {
		t.Fatalf("restored permissions differ: %+v vs %+v", restored.Permissions, p.Permissions)
	}
	if !e.IsAuthenticated(ctx) {
		t.Fatal("expected authenticated")
	}
}

func TestEnumerationSafety(t *testing.T) {
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv)
	ctx := context.Background()

	_, errUnknown := e.Login(ctx, "ghost@x.com", "whatever")
	_, errWrong := e.Login(ctx, "a@x.com", "wrong")

	var ae1, ae2 *Error
	if !errors.As(errUnknown, &ae1) || !errors.As(errWrong, &ae2) {
		t.Fatalf("expected typed errors, got %v / %v", errUnknown, errWrong)
	}
	if ae1.Kind != KindInvalidCredentials || ae2.Kind != KindInvalidCredentials {
		t.Fatalf("kinds differ: %s / %s", ae1.Kind, ae2.Kind)
	}
	// Both identifiers are at the same failure count, so the messages must
	// be byte-identical: no hint which of the two inputs was wrong.
	if ae1.Message != ae2.Message {
		t.Fatalf("messages differ: %q vs %q", ae1.Message, ae2.Message)
	}
	if ae1.RemainingAttempts != DefaultMaxFailedAttempts-1 {
		t.Fatalf("remaining attempts %d", ae1.RemainingAttempts)
	}
}

func TestLockoutScenario(t *testing.T) {
	now, advance := testClock(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv, WithClock(now))
	ctx := context.Background()

	// Four failures stay on the invalid-credentials branch.
	for i := 1; i <= 4; i++ {
		_, err := e.Login(ctx, "a@x.com", "bad")
		var ae *Error
		if !errors.As(err, &ae) || ae.Kind != KindInvalidCredentials {
			t.Fatalf("attempt %d: %v", i, err)
		}
		if ae.RemainingAttempts != DefaultMaxFailedAttempts-i {
			t.Fatalf("attempt %d: remaining %d", i, ae.RemainingAttempts)
		}
	}

	// The fifth failure locks the identifier.
	_, err := e.Login(ctx, "a@x.com", "bad")
	var locked *Error
	if !errors.As(err, &locked) || locked.Kind != KindAccountLocked {
		t.Fatalf("fifth attempt: %v", err)
	}
	if locked.RemainingMinutes != 15 {
		t.Fatalf("remaining minutes %d, want 15", locked.RemainingMinutes)
	}

	// Even the correct secret is rejected while locked, and the lock does
	// not extend itself.
	_, err = e.Login(ctx, "a@x.com", "s1")
	if !errors.As(err, &locked) || locked.Kind != KindAccountLocked {
		t.Fatalf("locked attempt with correct secret: %v", err)
	}

	advance(16 * time.Minute)
	p, err := e.Login(ctx, "a@x.com", "s1")
	if err != nil {
		t.Fatalf("login after expiry: %v", err)
	}
	if p.AccountID == "" {
		t.Fatal("expected principal after lock expiry")
	}
}

func TestSuccessResetsCounter(t *testing.T) {
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = e.Login(ctx, "a@x.com", "bad")
	}
	if _, err := e.Login(ctx, "a@x.com", "s1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	_, err := e.Login(ctx, "a@x.com", "bad")
	var ae *Error
	if !errors.As(err, &ae) {
		t.Fatalf("expected typed error, got %v", err)
	}
	if ae.RemainingAttempts != DefaultMaxFailedAttempts-1 {
		t.Fatalf("counter not reset: remaining %d", ae.RemainingAttempts)
	}
}

func TestInactiveAccountDoesNotCount(t *testing.T) {
	kv := kvstore.NewMemory()
	e, dir := newTestEngine(t, kv)
	dir.Add(Account{
		Name: "Bob", Email: "b@x.com", Secret: "s2", Active: false,
	})
	ctx := context.Background()

	// Two real failures first, so the pre-call count is non-zero.
	_, _ = e.Login(ctx, "b@x.com", "bad")
	_, _ = e.Login(ctx, "b@x.com", "bad")

	_, err := e.Login(ctx, "b@x.com", "s2")
	var ae *Error
	if !errors.As(err, &ae) || ae.Kind != KindUserInactive {
		t.Fatalf("expected UserInactive, got %v", err)
	}

	// The counter must be exactly where it was before the inactive attempt.
	data, err2 := kv.Get(ctx, lockoutKeyPrefix+"b@x.com")
	if err2 != nil {
		t.Fatalf("lockout record: %v", err2)
	}
	var state LockoutState
	if err2 := json.Unmarshal(data, &state); err2 != nil {
		t.Fatalf("decode lockout record: %v", err2)
	}
	if state.FailedAttempts != 2 {
		t.Fatalf("failed attempts %d, want 2", state.FailedAttempts)
	}
}

func TestCorruptSessionIsDiscarded(t *testing.T) {
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv)
	ctx := context.Background()

	if _, err := e.Login(ctx, "a@x.com", "s1"); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Truncate the stored record.
	if err := kv.Set(ctx, DefaultSessionKey, []byte(`{"accountId":"u1","na`)); err != nil {
		t.Fatal(err)
	}

	if _, err := e.RestoreSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	if _, err := kv.Get(ctx, DefaultSessionKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatal("corrupt session record was not deleted")
	}
	// Idempotent cleanup: the second restore is also a clean miss.
	if _, err := e.RestoreSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("second restore: %v", err)
	}

	// A record missing required fields is treated the same way.
	_ = kv.Set(ctx, DefaultSessionKey, []byte(`{"permissions":{}}`))
	if _, err := e.RestoreSession(ctx); !errors.Is(err, ErrNoSession) {
		t.Fatalf("restore of field-less record: %v", err)
	}
	if _, err := kv.Get(ctx, DefaultSessionKey); !errors.Is(err, kvstore.ErrNotFound) {
		t.Fatal("field-less session record was not deleted")
	}
}

// brokenWrites fails every Set while leaving reads intact.
type brokenWrites struct {
	*kvstore.Memory
}

func (b *brokenWrites) Set(_ context.Context, _ string, _ []byte) error {
	return errors.New("disk full")
}

func TestLoginSurvivesStoreWriteFailure(t *testing.T) {
	kv := &brokenWrites{Memory: kvstore.NewMemory()}
	e, _ := newTestEngine(t, kv)
	ctx := context.Background()

	p, err := e.Login(ctx, "a@x.com", "s1")
	if err != nil {
		t.Fatalf("login must not fail on persistence errors: %v", err)
	}
	if p.Email != "a@x.com" {
		t.Fatalf("unexpected principal: %+v", p)
	}
	// The session never made it to disk, so restore misses; that is the
	// documented trade-off of fail-soft persistence.
	if e.IsAuthenticated(ctx) {
		t.Fatal("no session should have been persisted")
	}
}

func TestLogoutIsNoOpSafe(t *testing.T) {
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv)
	ctx := context.Background()

	e.Logout(ctx) // nothing logged in

	entries, err := e.Audit().All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty audit log, got %d entries", len(entries))
	}

	if _, err := e.Login(ctx, "a@x.com", "s1"); err != nil {
		t.Fatal(err)
	}
	e.Logout(ctx)
	if e.IsAuthenticated(ctx) {
		t.Fatal("still authenticated after logout")
	}

	entries, _ = e.Audit().All(ctx)
	if len(entries) != 2 {
		t.Fatalf("expected login+logout entries, got %d", len(entries))
	}
	if entries[1].Action != "logout" || entries[1].AccountLabel != "Ada" {
		t.Fatalf("logout entry not attributed: %+v", entries[1])
	}
}

func TestTouchUpdatesLastActivity(t *testing.T) {
	now, advance := testClock(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv, WithClock(now))
	ctx := context.Background()

	p, err := e.Login(ctx, "a@x.com", "s1")
	if err != nil {
		t.Fatal(err)
	}
	advance(5 * time.Minute)

	touched, err := e.Touch(ctx)
	if err != nil {
		t.Fatalf("Touch: %v", err)
	}
	if !touched.LastActivityAt.After(p.LastActivityAt) {
		t.Fatal("last activity not advanced")
	}
	if !touched.IssuedAt.Equal(p.IssuedAt) {
		t.Fatal("issuedAt must not change on touch")
	}

	restored, _ := e.RestoreSession(ctx)
	if !restored.LastActivityAt.Equal(touched.LastActivityAt) {
		t.Fatal("touch was not persisted")
	}
}

func TestLoginLimiter(t *testing.T) {
	kv := kvstore.NewMemory()
	e, _ := newTestEngine(t, kv, WithLoginLimiter(0.01, 2))
	ctx := context.Background()

	_, _ = e.Login(ctx, "a@x.com", "bad")
	_, _ = e.Login(ctx, "a@x.com", "bad")

	if _, err := e.Login(ctx, "a@x.com", "s1"); !errors.Is(err, ErrThrottled) {
		t.Fatalf("expected ErrThrottled, got %v", err)
	}

	// Another identifier has its own bucket.
	if _, err := e.Login(ctx, "other@x.com", "nope"); errors.Is(err, ErrThrottled) {
		t.Fatal("throttle leaked across identifiers")
	}
}

func TestAuditTrailOfLoginOutcomes(t *testing.T) {
	now, _ := testClock(time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC))
	kv := kvstore.NewMemory()
	e, dir := newTestEngine(t, kv, WithClock(now))
	dir.Add(Account{Name: "Bob", Email: "b@x.com", Secret: "s2", Active: false})
	ctx := context.Background()

	_, _ = e.Login(ctx, "ghost@x.com", "x") // invalid credentials
	_, _ = e.Login(ctx, "b@x.com", "s2")    // inactive
	_, _ = e.Login(ctx, "a@x.com", "s1")    // success

	entries, err := e.Audit().All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	wantDetails := []string{"invalid credentials", "inactive account login attempt", "login successful"}
	for i, want := range wantDetails {
		if entries[i].Details != want {
			t.Fatalf("entry %d details %q, want %q", i, entries[i].Details, want)
		}
		if entries[i].Action != "login" {
			t.Fatalf("entry %d action %q", i, entries[i].Action)
		}
		if entries[i].ID == "" {
			t.Fatalf("entry %d missing id", i)
		}
	}
}
