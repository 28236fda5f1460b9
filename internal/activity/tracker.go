// Package activity tracks per-tab idle state across a volatile daemon
// lifecycle. The browser's tabs outlive this process, so the tracker can
// rebuild a usable baseline from the live tab set after a restart.
package activity

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mfriis/tabnap/internal/browser"
)

const (
	// NoWindow marks a record not bound to any window.
	NoWindow = -1

	StoreKey      = "activity"
	schemaVersion = 1
)

// MinuteOf truncates a wall-clock time to whole minutes since the Unix epoch,
// the only time unit the suspension core uses.
func MinuteOf(t time.Time) int64 {
	return t.UTC().Unix() / 60
}

// TabActivity records when a tab was last foregrounded and last touched.
// Invariant: LastUpdatedAtMinute >= LastActiveAtMinute, enforced on every
// mutation and again when loading persisted state.
type TabActivity struct {
	TabID               int   `json:"tab_id"`
	WindowID            int   `json:"window_id"`
	LastActiveAtMinute  int64 `json:"last_active_at_minute"`
	LastUpdatedAtMinute int64 `json:"last_updated_at_minute"`
}

// Tracker owns the activity map and the window-to-active-tab map. All
// mutation goes through its methods under one mutex; nothing else touches
// the maps.
type Tracker struct {
	mu             sync.Mutex
	tabs           map[int]*TabActivity
	activeByWindow map[int]int
}

func NewTracker() *Tracker {
	return &Tracker{
		tabs:           make(map[int]*TabActivity),
		activeByWindow: make(map[int]int),
	}
}

// MarkTabActive records that a tab came to the foreground at minute, creating
// the record if needed and rebinding the window's active-tab entry. It
// reports whether any observable field changed, which callers use to decide
// whether persistence needs scheduling.
func (t *Tracker) MarkTabActive(tabID, windowID int, minute int64) bool {
	if tabID < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	rec, ok := t.tabs[tabID]
	if !ok {
		rec = &TabActivity{TabID: tabID, WindowID: NoWindow}
		t.tabs[tabID] = rec
		changed = true
	}
	if rec.LastActiveAtMinute != minute {
		rec.LastActiveAtMinute = minute
		changed = true
	}
	if rec.LastUpdatedAtMinute != minute {
		rec.LastUpdatedAtMinute = minute
		changed = true
	}
	if windowID >= 0 {
		if rec.WindowID != windowID {
			rec.WindowID = windowID
			changed = true
		}
		if t.activeByWindow[windowID] != tabID {
			t.activeByWindow[windowID] = tabID
			changed = true
		}
	}
	return changed
}

// MarkTabUpdated bumps only the last-updated minute, leaving last-active
// untouched. This starts the idle clock from the moment a tab goes to the
// background rather than from its last genuine interaction.
func (t *Tracker) MarkTabUpdated(tabID, windowID int, minute int64) bool {
	if tabID < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.markUpdatedLocked(tabID, windowID, minute)
}

func (t *Tracker) markUpdatedLocked(tabID, windowID int, minute int64) bool {
	changed := false
	rec, ok := t.tabs[tabID]
	if !ok {
		rec = &TabActivity{TabID: tabID, WindowID: NoWindow}
		t.tabs[tabID] = rec
		changed = true
	}
	if minute < rec.LastActiveAtMinute {
		minute = rec.LastActiveAtMinute
	}
	if rec.LastUpdatedAtMinute != minute {
		rec.LastUpdatedAtMinute = minute
		changed = true
	}
	if windowID >= 0 && rec.WindowID != windowID {
		rec.WindowID = windowID
		changed = true
	}
	return changed
}

// EnsureBaseline seeds an "idle starting now" record for a tab the tracker
// has never seen, so tabs that predate a daemon restart don't read as idle
// since epoch zero. Reports whether a record was created.
func (t *Tracker) EnsureBaseline(tab browser.Tab, nowMinute int64) bool {
	if tab.ID < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tabs[tab.ID]; ok {
		return false
	}
	return t.markUpdatedLocked(tab.ID, tab.WindowID, nowMinute)
}

// MarkWindowActiveTabInactive bumps the update minute of the window's current
// foreground tab; called when the window loses focus.
func (t *Tracker) MarkWindowActiveTabInactive(windowID int, minute int64) bool {
	if windowID < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	tabID, ok := t.activeByWindow[windowID]
	if !ok {
		return false
	}
	return t.markUpdatedLocked(tabID, NoWindow, minute)
}

// RemoveTab discards a closed tab's record and any window-active entries that
// referenced it, so the window map never points at a dead tab.
func (t *Tracker) RemoveTab(tabID int) bool {
	if tabID < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(tabID)
}

func (t *Tracker) removeLocked(tabID int) bool {
	changed := false
	if _, ok := t.tabs[tabID]; ok {
		delete(t.tabs, tabID)
		changed = true
	}
	for w, id := range t.activeByWindow {
		if id == tabID {
			delete(t.activeByWindow, w)
			changed = true
		}
	}
	return changed
}

// ReplaceTab moves a tab slot to a new id: the replacement inherits the old
// tab's window binding (including the window-active entry) but its timestamps
// reset to minute.
func (t *Tracker) ReplaceTab(addedTabID, removedTabID int, minute int64) bool {
	if addedTabID < 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	windowID := NoWindow
	if old, ok := t.tabs[removedTabID]; ok {
		windowID = old.WindowID
		delete(t.tabs, removedTabID)
	}
	t.tabs[addedTabID] = &TabActivity{
		TabID:               addedTabID,
		WindowID:            windowID,
		LastActiveAtMinute:  minute,
		LastUpdatedAtMinute: minute,
	}
	for w, id := range t.activeByWindow {
		if id == removedTabID {
			t.activeByWindow[w] = addedTabID
		}
	}
	return true
}

// Get returns a copy of a tab's record.
func (t *Tracker) Get(tabID int) (TabActivity, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.tabs[tabID]
	if !ok {
		return TabActivity{}, false
	}
	return *rec, true
}

// ActiveTabOf returns the tab currently foreground in a window.
func (t *Tracker) ActiveTabOf(windowID int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.activeByWindow[windowID]
	return id, ok
}

// Snapshot returns deep copies of all records, ordered by tab id.
func (t *Tracker) Snapshot() []TabActivity {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TabActivity, 0, len(t.tabs))
	for _, rec := range t.tabs {
		out = append(out, *rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TabID < out[j].TabID })
	return out
}

// Len reports how many tabs the tracker currently knows about.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tabs)
}

// PruneStale drops records for tabs the browser no longer has. Removal
// events can be missed across restarts; this bounds the resulting growth.
// Returns how many records were dropped.
func (t *Tracker) PruneStale(ctx context.Context, q browser.Querier) (int, error) {
	tabs, err := q.QueryTabs(ctx, browser.Filter{})
	if err != nil {
		return 0, fmt.Errorf("query live tabs: %w", err)
	}
	live := make(map[int]struct{}, len(tabs))
	for _, tab := range tabs {
		live[tab.ID] = struct{}{}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	removed := 0
	for id := range t.tabs {
		if _, ok := live[id]; !ok {
			delete(t.tabs, id)
			removed++
		}
	}
	for w, id := range t.activeByWindow {
		if _, ok := live[id]; !ok {
			delete(t.activeByWindow, w)
		}
	}
	return removed, nil
}

// SeedActiveTabs marks every currently-active tab as active now, populating
// the window-active map after a restart. Returns how many tabs were seeded.
func (t *Tracker) SeedActiveTabs(ctx context.Context, q browser.Querier, nowMinute int64) (int, error) {
	tabs, err := q.QueryTabs(ctx, browser.Filter{Active: browser.Bool(true)})
	if err != nil {
		return 0, fmt.Errorf("query active tabs: %w", err)
	}
	seeded := 0
	for _, tab := range tabs {
		if t.MarkTabActive(tab.ID, tab.WindowID, nowMinute) {
			seeded++
		}
	}
	return seeded, nil
}
