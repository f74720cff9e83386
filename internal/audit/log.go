// Package audit keeps an ordered, append-only record of security-relevant
// events. Writes are fail-soft: a storage outage must never block a login or
// logout outcome, so failures are logged and counted instead of returned.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"flowcrm.org/internal/ids"
	"flowcrm.org/internal/kvstore"
	"flowcrm.org/internal/obs"
)

// Actions recorded by the auth engine.
const (
	ActionLogin  = "login"
	ActionLogout = "logout"
)

// DefaultKey is the storage key holding the serialized entry list.
const DefaultKey = "audit:log"

// Entry is one immutable audit record.
type Entry struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"accountId,omitempty"`
	AccountLabel string    `json:"accountLabel"`
	Action       string    `json:"action"`
	Resource     string    `json:"resource"`
	ResourceID   string    `json:"resourceId,omitempty"`
	Details      string    `json:"details,omitempty"`
	OccurredAt   time.Time `json:"occurredAt"`
}

// Log is the append-only audit log over a key-value store.
type Log struct {
	kv     kvstore.Store
	key    string
	now    func() time.Time
	logger *log.Logger

	// Append is a read-modify-write of the whole list; serialize it.
	mu sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithKey overrides the storage key.
func WithKey(key string) Option {
	return func(l *Log) {
		if key != "" {
			l.key = key
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Log) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithLogger overrides the mirror logger.
func WithLogger(lg *log.Logger) Option {
	return func(l *Log) {
		if lg != nil {
			l.logger = lg
		}
	}
}

// New constructs an audit log over the given store.
func New(kv kvstore.Store, opts ...Option) *Log {
	l := &Log{
		kv:     kv,
		key:    DefaultKey,
		now:    time.Now,
		logger: obs.Logger(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append records an entry, filling ID and OccurredAt when zero. Entries are
// mirrored to the structured log so a broken store still leaves a trace.
func (l *Log) Append(ctx context.Context, e Entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e.OccurredAt.IsZero() {
		e.OccurredAt = l.now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.OccurredAt)
	}

	l.mirror(e)

	entries, err := l.readAll(ctx)
	if err != nil {
		// Never overwrite an unreadable log with a single entry.
		obs.StoreFailure("audit_read")
		l.warn("audit log unreadable, entry not persisted", err)
		return
	}
	entries = append(entries, e)
	data, err := json.Marshal(entries)
	if err != nil {
		l.warn("audit marshal failed", err)
		return
	}
	if err := l.kv.Set(ctx, l.key, data); err != nil {
		obs.StoreFailure("audit_append")
		l.warn("audit write failed", err)
	}
}

// All returns every entry, oldest first. A missing log is empty, not an
// error.
func (l *Log) All(ctx context.Context) ([]Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.readAll(ctx)
}

func (l *Log) readAll(ctx context.Context) ([]Entry, error) {
	data, err := l.kv.Get(ctx, l.key)
	if errors.Is(err, kvstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

func (l *Log) mirror(e Entry) {
	line := map[string]any{
		"ts":      e.OccurredAt.Format(time.RFC3339Nano),
		"type":    "audit",
		"id":      e.ID,
		"action":  e.Action,
		"account": e.AccountLabel,
	}
	if e.AccountID != "" {
		line["account_id"] = e.AccountID
	}
	if e.Details != "" {
		line["details"] = e.Details
	}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	l.logger.Println(string(data))
}

func (l *Log) warn(msg string, err error) {
	l.logger.Printf(`{"level":"warn","msg":%q,"error":%q}`, msg, err.Error())
}
