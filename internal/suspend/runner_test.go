package suspend

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/mfriis/tabnap/internal/activity"
	"github.com/mfriis/tabnap/internal/browser"
	"github.com/mfriis/tabnap/internal/settings"
	"github.com/mfriis/tabnap/internal/store"
)

type fakeBrowser struct {
	mu          sync.Mutex
	tabs        []browser.Tab
	filteredErr error
	allErr      error
	updateErrOn map[int]error
	queries     []browser.Filter
	updates     map[int]string
}

func newFakeBrowser(tabs ...browser.Tab) *fakeBrowser {
	return &fakeBrowser{tabs: tabs, updates: make(map[int]string)}
}

func (f *fakeBrowser) QueryTabs(_ context.Context, filter browser.Filter) ([]browser.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, filter)
	filtered := filter.Active != nil || filter.Pinned != nil || filter.Audible != nil
	if filtered && f.filteredErr != nil {
		return nil, f.filteredErr
	}
	if !filtered && f.allErr != nil {
		return nil, f.allErr
	}
	var out []browser.Tab
	for _, tab := range f.tabs {
		if filter.Active != nil && tab.Active != *filter.Active {
			continue
		}
		if filter.Pinned != nil && tab.Pinned != *filter.Pinned {
			continue
		}
		if filter.Audible != nil && tab.Audible != *filter.Audible {
			continue
		}
		out = append(out, tab)
	}
	return out, nil
}

func (f *fakeBrowser) UpdateTabURL(_ context.Context, tabID int, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.updateErrOn[tabID]; err != nil {
		return err
	}
	f.updates[tabID] = url
	return nil
}

func (f *fakeBrowser) updatedURL(tabID int) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	url, ok := f.updates[tabID]
	return url, ok
}

func (f *fakeBrowser) queryCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.queries)
}

func newTestRunner(fb *fakeBrowser) (*Runner, *activity.Tracker, *RecoveryLedger, store.Store) {
	tracker := activity.NewTracker()
	ledger := NewRecoveryLedger(10)
	st := store.NewMemoryStore()
	r := NewRunner(RunnerConfig{
		Tabs:    fb,
		Mutator: fb,
		Tracker: tracker,
		Store:   st,
		Ledger:  ledger,
	})
	return r, tracker, ledger, st
}

func TestSweepSuspendsIdleTab(t *testing.T) {
	tab := browser.Tab{ID: 1, WindowID: 1, URL: "https://example.com/a", Title: "A"}
	fb := newFakeBrowser(tab)
	r, tracker, ledger, _ := newTestRunner(fb)
	tracker.MarkTabUpdated(1, 1, 100)

	if err := r.RunSuspendSweep(context.Background(), 160); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}

	placeholder, ok := fb.updatedURL(1)
	if !ok {
		t.Fatalf("tab 1 was not suspended")
	}
	payload, ok := DecodePlaceholderURL(placeholder)
	if !ok || payload.URL != tab.URL || payload.SuspendedAtMinute != 160 {
		t.Fatalf("placeholder payload = %+v", payload)
	}

	entries := ledger.Snapshot()
	if len(entries) != 1 || entries[0].URL != tab.URL {
		t.Fatalf("recovery entries = %+v", entries)
	}

	rec, _ := tracker.Get(1)
	if rec.LastUpdatedAtMinute != 160 {
		t.Fatalf("LastUpdatedAtMinute = %d, want bumped to 160", rec.LastUpdatedAtMinute)
	}
}

func TestSweepSkipsTabBelowThreshold(t *testing.T) {
	fb := newFakeBrowser(browser.Tab{ID: 1, WindowID: 1, URL: "https://example.com"})
	r, tracker, _, _ := newTestRunner(fb)
	tracker.MarkTabUpdated(1, 1, 100)

	if err := r.RunSuspendSweep(context.Background(), 159); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}
	if _, ok := fb.updatedURL(1); ok {
		t.Fatalf("tab suspended one minute before the threshold")
	}
}

func TestSweepSeedsBaselineForUnknownTab(t *testing.T) {
	fb := newFakeBrowser(browser.Tab{ID: 9, WindowID: 1, URL: "https://example.com"})
	r, tracker, _, _ := newTestRunner(fb)

	if err := r.RunSuspendSweep(context.Background(), 500); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}
	if _, ok := fb.updatedURL(9); ok {
		t.Fatalf("freshly seen tab must not be suspended")
	}
	rec, ok := tracker.Get(9)
	if !ok || rec.LastUpdatedAtMinute != 500 {
		t.Fatalf("baseline record = %+v, %v; want seeded at 500", rec, ok)
	}
}

func TestSweepFallsBackToUnfilteredQueryOnce(t *testing.T) {
	fb := newFakeBrowser(browser.Tab{ID: 1, WindowID: 1, URL: "https://example.com"})
	fb.filteredErr = errors.New("filter unsupported")
	r, tracker, _, _ := newTestRunner(fb)
	tracker.MarkTabUpdated(1, 1, 100)

	if err := r.RunSuspendSweep(context.Background(), 200); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}
	if fb.queryCount() != 2 {
		t.Fatalf("queries = %d, want filtered attempt plus one fallback", fb.queryCount())
	}
	if _, ok := fb.updatedURL(1); !ok {
		t.Fatalf("fallback sweep did not suspend the idle tab")
	}
}

func TestSweepGivesUpWhenBothQueriesFail(t *testing.T) {
	fb := newFakeBrowser()
	fb.filteredErr = errors.New("filter unsupported")
	fb.allErr = errors.New("browser gone")
	r, _, _, _ := newTestRunner(fb)

	if err := r.RunSuspendSweep(context.Background(), 200); err == nil {
		t.Fatalf("RunSuspendSweep() = nil, want error when both queries fail")
	}
}

func TestApplyFailureDoesNotAbortSweep(t *testing.T) {
	fb := newFakeBrowser(
		browser.Tab{ID: 1, WindowID: 1, URL: "https://one.example"},
		browser.Tab{ID: 2, WindowID: 1, URL: "https://two.example"},
	)
	fb.updateErrOn = map[int]error{1: errors.New("tab vanished")}
	r, tracker, ledger, _ := newTestRunner(fb)
	tracker.MarkTabUpdated(1, 1, 100)
	tracker.MarkTabUpdated(2, 1, 100)

	if err := r.RunSuspendSweep(context.Background(), 300); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}
	if _, ok := fb.updatedURL(2); !ok {
		t.Fatalf("sibling tab was not suspended after tab 1 failed")
	}
	for _, e := range ledger.Snapshot() {
		if e.URL == "https://one.example" {
			t.Fatalf("failed suspension must not record a recovery entry")
		}
	}
}

func TestManualSuspendBypassesActiveAndIdleGuards(t *testing.T) {
	tab := browser.Tab{ID: 1, WindowID: 1, Active: true, URL: "https://example.com"}
	fb := newFakeBrowser(tab)
	r, _, _, _ := newTestRunner(fb)

	d, suspended, err := r.SuspendFromAction(context.Background(), tab, 1000)
	if err != nil {
		t.Fatalf("SuspendFromAction() error = %v", err)
	}
	if !suspended || !d.ShouldSuspend {
		t.Fatalf("decision = %+v suspended = %v, want immediate suspension", d, suspended)
	}
}

func TestManualSuspendStillHonorsPinnedGuard(t *testing.T) {
	tab := browser.Tab{ID: 1, WindowID: 1, Pinned: true, URL: "https://example.com"}
	fb := newFakeBrowser(tab)
	r, _, _, _ := newTestRunner(fb)

	d, suspended, err := r.SuspendFromAction(context.Background(), tab, 1000)
	if err != nil {
		t.Fatalf("SuspendFromAction() error = %v", err)
	}
	if suspended || d.ShouldSuspend {
		t.Fatalf("pinned tab suspended by manual action: %+v", d)
	}
	if _, ok := fb.updatedURL(1); ok {
		t.Fatalf("pinned tab content was replaced")
	}
}

func TestSuspendSkipsPlaceholderTabs(t *testing.T) {
	placeholder, err := BuildPlaceholderURL(DefaultPlaceholderPrefix, Payload{URL: "https://example.com"})
	if err != nil {
		t.Fatalf("BuildPlaceholderURL() error = %v", err)
	}
	fb := newFakeBrowser()
	r, _, _, _ := newTestRunner(fb)

	tab := browser.Tab{ID: 1, WindowID: 1, URL: placeholder}
	d, suspended := r.SuspendTabIfEligible(context.Background(), tab, 1000, Options{ForceTimeoutReached: true, IgnoreActive: true})
	if suspended {
		t.Fatalf("already-suspended tab suspended again")
	}
	if d.ShouldSuspend {
		t.Fatalf("decision = %+v, want skip", d)
	}
}

func TestExcludedHostBlocksSuspension(t *testing.T) {
	fb := newFakeBrowser(browser.Tab{ID: 1, WindowID: 1, URL: "https://mail.example.com/inbox"})
	r, tracker, _, st := newTestRunner(fb)
	tracker.MarkTabUpdated(1, 1, 100)

	s := settings.Default()
	s.ExcludedHosts = []string{"mail.example.com"}
	if err := settings.Save(context.Background(), st, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	if err := r.RunSuspendSweep(context.Background(), 500); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}
	if _, ok := fb.updatedURL(1); ok {
		t.Fatalf("excluded host was suspended")
	}
}

func TestSiteProfileExtendsIdleThreshold(t *testing.T) {
	fb := newFakeBrowser(browser.Tab{ID: 1, WindowID: 1, URL: "https://docs.example.com/page"})
	r, tracker, _, st := newTestRunner(fb)
	tracker.MarkTabUpdated(1, 1, 100)

	s := settings.Default()
	s.SiteProfiles = []settings.SiteProfile{
		{Hosts: []string{"docs.example.com"}, IdleMinutes: 240},
	}
	if err := settings.Save(context.Background(), st, s); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Past the global threshold but inside the profile's longer one.
	if err := r.RunSuspendSweep(context.Background(), 250); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}
	if _, ok := fb.updatedURL(1); ok {
		t.Fatalf("site-profile tab suspended before its extended threshold")
	}

	if err := r.RunSuspendSweep(context.Background(), 340); err != nil {
		t.Fatalf("RunSuspendSweep() error = %v", err)
	}
	if _, ok := fb.updatedURL(1); !ok {
		t.Fatalf("site-profile tab not suspended past its threshold")
	}
}

func TestDecisionSummaryReportsReasonsWithoutSideEffects(t *testing.T) {
	fb := newFakeBrowser(
		browser.Tab{ID: 1, WindowID: 1, Active: true, URL: "https://a.example"},
		browser.Tab{ID: 2, WindowID: 1, Pinned: true, URL: "https://b.example"},
		browser.Tab{ID: 3, WindowID: 1, URL: "chrome://settings"},
		browser.Tab{ID: 4, WindowID: 1, URL: "https://c.example"},
	)
	r, tracker, _, _ := newTestRunner(fb)
	tracker.MarkTabUpdated(4, 1, 100)

	decisions, err := r.DecisionSummary(context.Background(), 500)
	if err != nil {
		t.Fatalf("DecisionSummary() error = %v", err)
	}
	want := map[int]string{
		1: "active",
		2: "pinned",
		3: "internalUrl",
		4: "eligible",
	}
	if len(decisions) != len(want) {
		t.Fatalf("decisions = %d, want %d", len(decisions), len(want))
	}
	for _, d := range decisions {
		if string(d.Decision.Reason) != want[d.Tab.ID] {
			t.Fatalf("tab %d reason = %q, want %q", d.Tab.ID, d.Decision.Reason, want[d.Tab.ID])
		}
	}
	if len(fb.updates) != 0 {
		t.Fatalf("dry run mutated tabs: %v", fb.updates)
	}
}
