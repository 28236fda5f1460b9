// Package browser defines the abstract capability surface the daemon needs
// from the host browser. The websocket bridge provides the production
// implementation; tests substitute fakes.
package browser

import "context"

// Tab is a point-in-time snapshot of one browser tab.
type Tab struct {
	ID       int    `json:"id"`
	WindowID int    `json:"window_id"`
	Active   bool   `json:"active"`
	Pinned   bool   `json:"pinned"`
	Audible  bool   `json:"audible"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

// Filter narrows a tab query. Nil fields mean "don't care".
type Filter struct {
	Active  *bool `json:"active,omitempty"`
	Pinned  *bool `json:"pinned,omitempty"`
	Audible *bool `json:"audible,omitempty"`
}

// Querier lists tabs matching a filter.
type Querier interface {
	QueryTabs(ctx context.Context, f Filter) ([]Tab, error)
}

// Mutator replaces a tab's displayed content. Failures must be handled
// per-tab by callers; one bad tab never aborts a sweep.
type Mutator interface {
	UpdateTabURL(ctx context.Context, tabID int, url string) error
}

// Bool is a convenience for building filters.
func Bool(b bool) *bool { return &b }
