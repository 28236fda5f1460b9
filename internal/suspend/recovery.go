package suspend

import (
	"context"
	"fmt"
	"sync"

	"github.com/mfriis/tabnap/internal/store"
)

const (
	// DefaultRecoveryCap bounds the recovery ledger.
	DefaultRecoveryCap = 50

	RecoveryStoreKey      = "recovery"
	recoverySchemaVersion = 1
)

// RecoveryEntry remembers a suspended tab's original location for restore.
type RecoveryEntry struct {
	URL               string `json:"url"`
	Title             string `json:"title"`
	SuspendedAtMinute int64  `json:"suspended_at_minute"`
}

// RecoveryLedger is a bounded, URL-deduplicated record of recent
// suspensions, most recent first.
type RecoveryLedger struct {
	mu      sync.Mutex
	cap     int
	entries []RecoveryEntry
}

func NewRecoveryLedger(capacity int) *RecoveryLedger {
	if capacity <= 0 {
		capacity = DefaultRecoveryCap
	}
	return &RecoveryLedger{cap: capacity}
}

// Add prepends an entry. An existing entry for the same URL is replaced, so
// the most recent suspension of a page always wins; the oldest entries fall
// off past the cap.
func (l *RecoveryLedger) Add(e RecoveryEntry) {
	if e.URL == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.entries {
		if existing.URL == e.URL {
			l.entries = append(l.entries[:i], l.entries[i+1:]...)
			break
		}
	}
	l.entries = append([]RecoveryEntry{e}, l.entries...)
	if len(l.entries) > l.cap {
		l.entries = l.entries[:l.cap]
	}
}

// Snapshot returns a copy of the ledger, most recent first.
func (l *RecoveryLedger) Snapshot() []RecoveryEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]RecoveryEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len reports the current entry count.
func (l *RecoveryLedger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// SaveTo writes the ledger under a versioned envelope.
func (l *RecoveryLedger) SaveTo(ctx context.Context, st store.Store) error {
	raw, err := store.MarshalEnvelope(recoverySchemaVersion, l.Snapshot())
	if err != nil {
		return fmt.Errorf("encode recovery ledger: %w", err)
	}
	if err := st.Set(ctx, RecoveryStoreKey, raw); err != nil {
		return fmt.Errorf("save recovery ledger: %w", err)
	}
	return nil
}

// RestoreFrom loads a persisted ledger; absent or mismatched data leaves it
// empty.
func (l *RecoveryLedger) RestoreFrom(ctx context.Context, st store.Store) error {
	raw, ok, err := st.Get(ctx, RecoveryStoreKey)
	if err != nil {
		return fmt.Errorf("load recovery ledger: %w", err)
	}
	if !ok {
		return nil
	}
	var entries []RecoveryEntry
	if !store.UnmarshalEnvelope(raw, recoverySchemaVersion, &entries) {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(entries) > l.cap {
		entries = entries[:l.cap]
	}
	l.entries = entries
	return nil
}
