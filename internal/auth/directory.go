package auth

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// UserDirectory supplies account records. It is an external collaborator;
// the engine never mutates accounts through it.
type UserDirectory interface {
	// FindByEmail looks up an account by normalized (lower-cased, trimmed)
	// email. Returns ErrAccountNotFound when no such account exists.
	FindByEmail(ctx context.Context, email string) (*Account, error)
}

// NormalizeEmail lower-cases and trims an email for directory lookups and
// lockout keying. Lockout counters key on this form so that mistyped or
// unknown emails are still throttled.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryDirectory is an in-process UserDirectory for tests and demos.
type MemoryDirectory struct {
	mu      sync.RWMutex
	byEmail map[string]*Account
}

var _ UserDirectory = (*MemoryDirectory)(nil)

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{byEmail: make(map[string]*Account)}
}

// Add stores an account, assigning an ID when absent, and returns the stored
// copy.
func (d *MemoryDirectory) Add(acc Account) Account {
	if acc.ID == "" {
		acc.ID = uuid.NewString()
	}
	acc.Email = NormalizeEmail(acc.Email)
	d.mu.Lock()
	defer d.mu.Unlock()
	stored := acc
	stored.Permissions = acc.Permissions.Clone()
	d.byEmail[stored.Email] = &stored
	return acc
}

func (d *MemoryDirectory) FindByEmail(_ context.Context, email string) (*Account, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	acc, ok := d.byEmail[NormalizeEmail(email)]
	if !ok {
		return nil, ErrAccountNotFound
	}
	// Copy out so callers cannot mutate the directory record.
	out := *acc
	out.Permissions = acc.Permissions.Clone()
	return &out, nil
}

// SetActive flips the administrative active flag for an account.
func (d *MemoryDirectory) SetActive(email string, active bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	acc, ok := d.byEmail[NormalizeEmail(email)]
	if !ok {
		return false
	}
	acc.Active = active
	return true
}
