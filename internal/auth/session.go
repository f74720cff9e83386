package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"flowcrm.org/internal/kvstore"
	"flowcrm.org/internal/obs"
)

// DefaultSessionKey is the storage key for the current session record.
const DefaultSessionKey = "session:current"

// SessionStore persists the authenticated principal as a JSON record. A
// stored record is proof of prior authentication within the engine's trust
// boundary; loading validates shape, it does not re-verify credentials.
type SessionStore struct {
	kv     kvstore.Store
	key    string
	logger *log.Logger
}

// NewSessionStore wraps the store; an empty key selects DefaultSessionKey.
func NewSessionStore(kv kvstore.Store, key string) *SessionStore {
	if key == "" {
		key = DefaultSessionKey
	}
	return &SessionStore{kv: kv, key: key, logger: obs.Logger()}
}

// Save serializes and persists the principal.
func (s *SessionStore) Save(ctx context.Context, p Principal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key, data)
}

// Load reads back the stored principal. Missing, unreadable or structurally
// invalid records all degrade to ErrNoSession; corrupt records are deleted
// so the next Load is clean.
func (s *SessionStore) Load(ctx context.Context) (Principal, error) {
	data, err := s.kv.Get(ctx, s.key)
	if err != nil {
		if !errors.Is(err, kvstore.ErrNotFound) {
			obs.StoreFailure("session_read")
			obs.Warn("session read failed", map[string]any{"error": err.Error()})
		}
		return Principal{}, ErrNoSession
	}

	var p Principal
	if err := json.Unmarshal(data, &p); err != nil {
		s.discardCorrupt(ctx, "session record not parseable")
		return Principal{}, ErrNoSession
	}
	if p.AccountID == "" || p.Email == "" || p.Name == "" {
		s.discardCorrupt(ctx, "session record missing required fields")
		return Principal{}, ErrNoSession
	}
	return p, nil
}

// Clear removes the session record. Missing records are not an error.
func (s *SessionStore) Clear(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key)
}

func (s *SessionStore) discardCorrupt(ctx context.Context, reason string) {
	obs.Warn(reason, map[string]any{"key": s.key})
	if err := s.kv.Delete(ctx, s.key); err != nil {
		obs.StoreFailure("session_delete")
	}
}
