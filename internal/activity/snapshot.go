package activity

import (
	"context"
	"fmt"

	"github.com/mfriis/tabnap/internal/store"
)

type persistedState struct {
	Tabs []TabActivity `json:"tabs"`
}

// SaveTo writes the current activity map under a versioned envelope. The
// window-active map is not persisted; it is rebuilt from the live tab set
// on startup.
func (t *Tracker) SaveTo(ctx context.Context, st store.Store) error {
	raw, err := store.MarshalEnvelope(schemaVersion, persistedState{Tabs: t.Snapshot()})
	if err != nil {
		return fmt.Errorf("encode activity: %w", err)
	}
	if err := st.Set(ctx, StoreKey, raw); err != nil {
		return fmt.Errorf("save activity: %w", err)
	}
	return nil
}

// RestoreFrom loads a persisted activity snapshot, dropping rows that fail
// validation and clamping any record that violates the updated >= active
// invariant. Absent or mismatched data leaves the tracker empty.
func (t *Tracker) RestoreFrom(ctx context.Context, st store.Store) error {
	raw, ok, err := st.Get(ctx, StoreKey)
	if err != nil {
		return fmt.Errorf("load activity: %w", err)
	}
	if !ok {
		return nil
	}
	var state persistedState
	if !store.UnmarshalEnvelope(raw, schemaVersion, &state) {
		return nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range state.Tabs {
		if rec.TabID < 0 || rec.LastActiveAtMinute < 0 || rec.LastUpdatedAtMinute < 0 {
			continue
		}
		if rec.LastUpdatedAtMinute < rec.LastActiveAtMinute {
			rec.LastUpdatedAtMinute = rec.LastActiveAtMinute
		}
		if rec.WindowID < 0 {
			rec.WindowID = NoWindow
		}
		stored := rec
		t.tabs[rec.TabID] = &stored
	}
	return nil
}
