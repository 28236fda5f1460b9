package policy

import (
	"net/url"
	"strings"
)

// Reason explains a suspend decision. The set is closed; new reasons must be
// appended, never renamed, because they surface in the diagnostics API.
type Reason string

const (
	ReasonActive            Reason = "active"
	ReasonPinned            Reason = "pinned"
	ReasonAudible           Reason = "audible"
	ReasonInternalURL       Reason = "internalUrl"
	ReasonURLTooLong        Reason = "urlTooLong"
	ReasonExcludedHost      Reason = "excludedHost"
	ReasonTimeoutNotReached Reason = "timeoutNotReached"
	ReasonEligible          Reason = "eligible"
)

// TabState is the minimal tab snapshot the evaluator looks at.
type TabState struct {
	Active  bool
	Pinned  bool
	Audible bool
	URL     string
}

// ActivityRef carries the tracked minutes for a tab. Nil means the tab has
// never been observed by the tracker.
type ActivityRef struct {
	LastActiveAtMinute  int64
	LastUpdatedAtMinute int64
}

// Input is everything a single evaluation needs. NowMinute is always supplied
// by the caller; the evaluator never reads the wall clock.
type Input struct {
	Tab      TabState
	Activity *ActivityRef

	IdleMinutes int64
	SkipPinned  bool
	SkipAudible bool

	NowMinute int64

	// Precomputed flags. InternalURL overrides URL derivation when set.
	InternalURL  *bool
	URLTooLong   bool
	ExcludedHost bool
}

// Decision is produced fresh per evaluation and never persisted.
type Decision struct {
	ShouldSuspend bool   `json:"should_suspend"`
	Reason        Reason `json:"reason"`
}

// Evaluate maps a tab snapshot to a suspend decision. The check order is the
// contract: first match wins, and reordering changes observable reasons.
func Evaluate(in Input) Decision {
	if in.Tab.Active {
		return Decision{Reason: ReasonActive}
	}
	if in.SkipPinned && in.Tab.Pinned {
		return Decision{Reason: ReasonPinned}
	}
	if in.SkipAudible && in.Tab.Audible {
		return Decision{Reason: ReasonAudible}
	}
	internal := IsInternalURL(in.Tab.URL)
	if in.InternalURL != nil {
		internal = *in.InternalURL
	}
	if internal {
		return Decision{Reason: ReasonInternalURL}
	}
	if in.URLTooLong {
		return Decision{Reason: ReasonURLTooLong}
	}
	if in.ExcludedHost {
		return Decision{Reason: ReasonExcludedHost}
	}
	if in.Activity == nil {
		return Decision{Reason: ReasonTimeoutNotReached}
	}
	reference := in.Activity.LastActiveAtMinute
	if in.Activity.LastUpdatedAtMinute > reference {
		reference = in.Activity.LastUpdatedAtMinute
	}
	// Inclusive boundary: exactly at the threshold suspends.
	if in.NowMinute-reference < in.IdleMinutes {
		return Decision{Reason: ReasonTimeoutNotReached}
	}
	return Decision{ShouldSuspend: true, Reason: ReasonEligible}
}

// IsInternalURL reports whether a URL points at something that cannot be
// suspended and restored: browser-internal pages, extension pages, or
// anything that fails to parse as plain http(s).
func IsInternalURL(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	switch u.Scheme {
	case "http", "https":
		return false
	default:
		return true
	}
}
