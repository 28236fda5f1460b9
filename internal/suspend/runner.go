package suspend

import (
	"context"
	"log"
	"net/url"
	"sync"

	"github.com/mfriis/tabnap/internal/activity"
	"github.com/mfriis/tabnap/internal/browser"
	"github.com/mfriis/tabnap/internal/observability"
	"github.com/mfriis/tabnap/internal/persist"
	"github.com/mfriis/tabnap/internal/policy"
	"github.com/mfriis/tabnap/internal/settings"
	"github.com/mfriis/tabnap/internal/store"
)

// maxDecisionTabs bounds the dry-run diagnostics response.
const maxDecisionTabs = 200

// Options tweak a single suspension attempt. Manual suspend-now sets both:
// it bypasses the foreground and idle-clock guards while still honoring the
// pinned/audible/excluded-host/internal-URL guards.
type Options struct {
	IgnoreActive        bool
	ForceTimeoutReached bool
}

// TabDecision pairs a tab with its dry-run policy outcome.
type TabDecision struct {
	Tab      browser.Tab     `json:"tab"`
	Decision policy.Decision `json:"decision"`
}

// Runner orchestrates sweeps and manual suspend actions: it queries
// candidate tabs, consults the tracker and the policy evaluator, applies the
// suspend action, and records recovery entries.
type Runner struct {
	tabs    browser.Querier
	mutator browser.Mutator
	tracker *activity.Tracker
	st      store.Store
	ledger  *RecoveryLedger

	activityQueue *persist.Queue
	recoveryQueue *persist.Queue
	metrics       *observability.Metrics

	placeholderPrefix string

	// ready blocks until the runtime can serve tab queries; nil means
	// always ready.
	ready func(ctx context.Context) error

	mu                         sync.Mutex
	settings                   settings.Settings
	loggedFilteredQueryFailure bool
}

type RunnerConfig struct {
	Tabs              browser.Querier
	Mutator           browser.Mutator
	Tracker           *activity.Tracker
	Store             store.Store
	Ledger            *RecoveryLedger
	ActivityQueue     *persist.Queue
	RecoveryQueue     *persist.Queue
	Metrics           *observability.Metrics
	PlaceholderPrefix string
	Ready             func(ctx context.Context) error
}

func NewRunner(cfg RunnerConfig) *Runner {
	prefix := cfg.PlaceholderPrefix
	if prefix == "" {
		prefix = DefaultPlaceholderPrefix
	}
	return &Runner{
		tabs:              cfg.Tabs,
		mutator:           cfg.Mutator,
		tracker:           cfg.Tracker,
		st:                cfg.Store,
		ledger:            cfg.Ledger,
		activityQueue:     cfg.ActivityQueue,
		recoveryQueue:     cfg.RecoveryQueue,
		metrics:           cfg.Metrics,
		placeholderPrefix: prefix,
		ready:             cfg.Ready,
		settings:          settings.Default(),
	}
}

// CurrentSettings returns the cached settings snapshot.
func (r *Runner) CurrentSettings() settings.Settings {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// SetSettings replaces the cached settings snapshot (normalized).
func (r *Runner) SetSettings(s settings.Settings) {
	s = s.Normalize()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.settings = s
}

// SweepIntervalMinutes derives the sweep cadence from the cached settings.
func (r *Runner) SweepIntervalMinutes() int64 {
	return r.CurrentSettings().SweepIntervalMinutes()
}

// ReloadSettings refreshes the cached snapshot from the store. A store
// failure keeps the previous snapshot; settings must never block a sweep.
func (r *Runner) ReloadSettings(ctx context.Context) settings.Settings {
	s, err := settings.Load(ctx, r.st)
	if err != nil {
		log.Printf("settings reload failed, keeping previous: %v", err)
		return r.CurrentSettings()
	}
	r.SetSettings(s)
	return s
}

// SuspendTabIfEligible evaluates one tab and, when eligible, replaces its
// content with the suspended placeholder. Apply failures are logged and
// swallowed; sweeps must survive individual tab failures. The returned bool
// reports whether the tab was actually suspended.
func (r *Runner) SuspendTabIfEligible(ctx context.Context, tab browser.Tab, nowMinute int64, opts Options) (policy.Decision, bool) {
	if tab.ID < 0 || IsPlaceholderURL(r.placeholderPrefix, tab.URL) {
		return policy.Decision{Reason: policy.ReasonInternalURL}, false
	}

	if !opts.ForceTimeoutReached {
		if r.tracker.EnsureBaseline(tab, nowMinute) {
			r.markActivityDirty()
		}
	}

	d := r.evaluateTab(tab, nowMinute, opts)
	if r.metrics != nil {
		r.metrics.EvalReasons.WithLabelValues(string(d.Reason)).Inc()
	}
	if !d.ShouldSuspend {
		return d, false
	}

	placeholder, err := BuildPlaceholderURL(r.placeholderPrefix, Payload{
		URL:               tab.URL,
		Title:             tab.Title,
		SuspendedAtMinute: nowMinute,
	})
	if err != nil {
		log.Printf("tab %d: refusing to suspend: %v", tab.ID, err)
		return d, false
	}

	if err := r.mutator.UpdateTabURL(ctx, tab.ID, placeholder); err != nil {
		log.Printf("tab %d: suspend apply failed: %v", tab.ID, err)
		return d, false
	}

	r.tracker.MarkTabUpdated(tab.ID, tab.WindowID, nowMinute)
	r.markActivityDirty()
	r.ledger.Add(RecoveryEntry{
		URL:               tab.URL,
		Title:             TrimTitle(tab.Title),
		SuspendedAtMinute: nowMinute,
	})
	if r.recoveryQueue != nil {
		r.recoveryQueue.MarkDirty()
	}
	if r.metrics != nil {
		r.metrics.TabsSuspended.Inc()
	}
	return d, true
}

// RunSuspendSweep evaluates every candidate tab sequentially. The candidate
// query is pre-filtered from the settings to reduce bridge traffic; if the
// filtered query fails it falls back once to an unfiltered query, logging
// only the first such failure to avoid log spam.
func (r *Runner) RunSuspendSweep(ctx context.Context, nowMinute int64) error {
	if err := r.waitReady(ctx); err != nil {
		r.countSweep("error")
		return err
	}
	s := r.ReloadSettings(ctx)

	filter := browser.Filter{Active: browser.Bool(false)}
	if s.SkipPinned {
		filter.Pinned = browser.Bool(false)
	}
	if s.SkipAudible {
		filter.Audible = browser.Bool(false)
	}

	result := "ok"
	tabs, err := r.tabs.QueryTabs(ctx, filter)
	if err != nil {
		r.noteFilteredQueryFailure(err)
		tabs, err = r.tabs.QueryTabs(ctx, browser.Filter{})
		if err != nil {
			r.countSweep("error")
			return err
		}
		result = "fallback"
	}

	for _, tab := range tabs {
		r.SuspendTabIfEligible(ctx, tab, nowMinute, Options{})
	}
	if r.metrics != nil {
		r.metrics.TrackedTabs.Set(float64(r.tracker.Len()))
	}
	r.countSweep(result)
	return nil
}

// SuspendFromAction handles the user's explicit "suspend this tab now": the
// foreground and idle guards are bypassed, everything else still applies.
func (r *Runner) SuspendFromAction(ctx context.Context, tab browser.Tab, nowMinute int64) (policy.Decision, bool, error) {
	if err := r.waitReady(ctx); err != nil {
		return policy.Decision{}, false, err
	}
	r.ReloadSettings(ctx)
	d, suspended := r.SuspendTabIfEligible(ctx, tab, nowMinute, Options{
		IgnoreActive:        true,
		ForceTimeoutReached: true,
	})
	return d, suspended, nil
}

// DecisionSummary evaluates every open tab without side effects, for
// diagnostics tooling. The response is capped to bound its size.
func (r *Runner) DecisionSummary(ctx context.Context, nowMinute int64) ([]TabDecision, error) {
	if err := r.waitReady(ctx); err != nil {
		return nil, err
	}
	r.ReloadSettings(ctx)
	tabs, err := r.tabs.QueryTabs(ctx, browser.Filter{})
	if err != nil {
		return nil, err
	}
	if len(tabs) > maxDecisionTabs {
		tabs = tabs[:maxDecisionTabs]
	}
	out := make([]TabDecision, 0, len(tabs))
	for _, tab := range tabs {
		var d policy.Decision
		if tab.ID < 0 || IsPlaceholderURL(r.placeholderPrefix, tab.URL) {
			d = policy.Decision{Reason: policy.ReasonInternalURL}
		} else {
			d = r.evaluateTab(tab, nowMinute, Options{})
		}
		out = append(out, TabDecision{Tab: tab, Decision: d})
	}
	return out, nil
}

// evaluateTab builds the policy input for one tab against the cached
// settings and evaluates it. Pure with respect to tabs; does not seed
// baselines.
func (r *Runner) evaluateTab(tab browser.Tab, nowMinute int64, opts Options) policy.Decision {
	s := r.CurrentSettings()
	host := hostOf(tab.URL)
	eff := s.EffectiveFor(host)

	var ref *policy.ActivityRef
	if opts.ForceTimeoutReached {
		forced := nowMinute - eff.IdleMinutes
		ref = &policy.ActivityRef{LastActiveAtMinute: forced, LastUpdatedAtMinute: forced}
	} else if rec, ok := r.tracker.Get(tab.ID); ok {
		ref = &policy.ActivityRef{
			LastActiveAtMinute:  rec.LastActiveAtMinute,
			LastUpdatedAtMinute: rec.LastUpdatedAtMinute,
		}
	}

	return policy.Evaluate(policy.Input{
		Tab: policy.TabState{
			Active:  tab.Active && !opts.IgnoreActive,
			Pinned:  tab.Pinned,
			Audible: tab.Audible,
			URL:     tab.URL,
		},
		Activity:     ref,
		IdleMinutes:  eff.IdleMinutes,
		SkipPinned:   eff.SkipPinned,
		SkipAudible:  eff.SkipAudible,
		NowMinute:    nowMinute,
		URLTooLong:   len(tab.URL) > maxURLLength,
		ExcludedHost: s.IsExcludedHost(host),
	})
}

func (r *Runner) waitReady(ctx context.Context) error {
	if r.ready == nil {
		return nil
	}
	return r.ready(ctx)
}

func (r *Runner) markActivityDirty() {
	if r.activityQueue != nil {
		r.activityQueue.MarkDirty()
	}
}

func (r *Runner) countSweep(result string) {
	if r.metrics != nil {
		r.metrics.SweepRuns.WithLabelValues(result).Inc()
	}
}

func (r *Runner) noteFilteredQueryFailure(err error) {
	r.mu.Lock()
	logged := r.loggedFilteredQueryFailure
	r.loggedFilteredQueryFailure = true
	r.mu.Unlock()
	if !logged {
		log.Printf("filtered tab query failed, retrying unfiltered: %v", err)
	}
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
