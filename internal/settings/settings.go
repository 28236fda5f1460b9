package settings

import (
	"context"
	"fmt"
	"strings"

	"github.com/mfriis/tabnap/internal/store"
)

const (
	// IdleMinutes bounds: one hour to thirty days.
	MinIdleMinutes     = 60
	MaxIdleMinutes     = 43200
	DefaultIdleMinutes = 60

	// Sweep interval derives from the idle threshold: a longer threshold
	// tolerates coarser sweeps without materially delaying suspensions.
	minSweepIntervalMinutes = 1
	maxSweepIntervalMinutes = 30

	StoreKey      = "settings"
	schemaVersion = 1
)

// SiteProfile overrides the global policy for matching hosts. Zero values
// inherit the global setting.
type SiteProfile struct {
	Hosts       []string `json:"hosts"`
	IdleMinutes int64    `json:"idle_minutes,omitempty"`
	SkipPinned  *bool    `json:"skip_pinned,omitempty"`
	SkipAudible *bool    `json:"skip_audible,omitempty"`
}

// Settings is the user-facing suspension policy. The core consumes it as an
// already-normalized read-only snapshot, refreshed on each sweep.
type Settings struct {
	IdleMinutes   int64         `json:"idle_minutes"`
	ExcludedHosts []string      `json:"excluded_hosts"`
	SkipPinned    bool          `json:"skip_pinned"`
	SkipAudible   bool          `json:"skip_audible"`
	SiteProfiles  []SiteProfile `json:"site_profiles,omitempty"`
}

// Effective is the per-host view of the policy after site profiles apply.
type Effective struct {
	IdleMinutes int64
	SkipPinned  bool
	SkipAudible bool
}

// Default returns the out-of-the-box policy.
func Default() Settings {
	return Settings{
		IdleMinutes: DefaultIdleMinutes,
		SkipPinned:  true,
		SkipAudible: true,
	}
}

// Normalize clamps out-of-range values and drops empty host rules. It returns
// a cleaned copy and never fails: persisted settings are always usable.
func (s Settings) Normalize() Settings {
	out := s
	if out.IdleMinutes < MinIdleMinutes {
		out.IdleMinutes = MinIdleMinutes
	}
	if out.IdleMinutes > MaxIdleMinutes {
		out.IdleMinutes = MaxIdleMinutes
	}
	out.ExcludedHosts = cleanHosts(s.ExcludedHosts)

	out.SiteProfiles = nil
	for _, p := range s.SiteProfiles {
		hosts := cleanHosts(p.Hosts)
		if len(hosts) == 0 {
			continue
		}
		np := SiteProfile{
			Hosts:       hosts,
			IdleMinutes: p.IdleMinutes,
			SkipPinned:  p.SkipPinned,
			SkipAudible: p.SkipAudible,
		}
		if np.IdleMinutes != 0 {
			if np.IdleMinutes < MinIdleMinutes {
				np.IdleMinutes = MinIdleMinutes
			}
			if np.IdleMinutes > MaxIdleMinutes {
				np.IdleMinutes = MaxIdleMinutes
			}
		}
		out.SiteProfiles = append(out.SiteProfiles, np)
	}
	return out
}

// Validate reports values Normalize would have to fix. The HTTP surface uses
// it to reject bad updates instead of silently clamping them.
func (s Settings) Validate() error {
	if s.IdleMinutes < MinIdleMinutes || s.IdleMinutes > MaxIdleMinutes {
		return fmt.Errorf("idle_minutes must be in [%d, %d]", MinIdleMinutes, MaxIdleMinutes)
	}
	return nil
}

// IsExcludedHost reports whether host matches any excluded-host rule.
func (s Settings) IsExcludedHost(host string) bool {
	host = normalizeHost(host)
	if host == "" {
		return false
	}
	for _, rule := range s.ExcludedHosts {
		if HostMatches(rule, host) {
			return true
		}
	}
	return false
}

// EffectiveFor resolves the policy for one host: the first site profile whose
// rules match wins, field by field, over the globals.
func (s Settings) EffectiveFor(host string) Effective {
	eff := Effective{
		IdleMinutes: s.IdleMinutes,
		SkipPinned:  s.SkipPinned,
		SkipAudible: s.SkipAudible,
	}
	host = normalizeHost(host)
	if host == "" {
		return eff
	}
	for _, p := range s.SiteProfiles {
		if !matchesAny(p.Hosts, host) {
			continue
		}
		if p.IdleMinutes != 0 {
			eff.IdleMinutes = p.IdleMinutes
		}
		if p.SkipPinned != nil {
			eff.SkipPinned = *p.SkipPinned
		}
		if p.SkipAudible != nil {
			eff.SkipAudible = *p.SkipAudible
		}
		return eff
	}
	return eff
}

// SweepIntervalMinutes derives the sweep cadence from the idle threshold,
// clamped to [1, 30] minutes.
func (s Settings) SweepIntervalMinutes() int64 {
	interval := s.IdleMinutes / 120
	if interval < minSweepIntervalMinutes {
		interval = minSweepIntervalMinutes
	}
	if interval > maxSweepIntervalMinutes {
		interval = maxSweepIntervalMinutes
	}
	return interval
}

// Load reads settings from the store, falling back to defaults on absence,
// malformed data, or a schema version mismatch.
func Load(ctx context.Context, st store.Store) (Settings, error) {
	raw, ok, err := st.Get(ctx, StoreKey)
	if err != nil {
		return Default(), fmt.Errorf("load settings: %w", err)
	}
	if !ok {
		return Default(), nil
	}
	var s Settings
	if !store.UnmarshalEnvelope(raw, schemaVersion, &s) {
		return Default(), nil
	}
	return s.Normalize(), nil
}

// Save persists settings under a versioned envelope.
func Save(ctx context.Context, st store.Store, s Settings) error {
	raw, err := store.MarshalEnvelope(schemaVersion, s.Normalize())
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := st.Set(ctx, StoreKey, raw); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	return nil
}

func cleanHosts(hosts []string) []string {
	var out []string
	for _, h := range hosts {
		h = normalizeHost(h)
		if h == "" {
			continue
		}
		out = append(out, h)
	}
	return out
}

func normalizeHost(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

func matchesAny(rules []string, host string) bool {
	for _, rule := range rules {
		if HostMatches(rule, host) {
			return true
		}
	}
	return false
}

// HostMatches reports whether a host-match rule covers host. A rule matches
// the host itself and any subdomain; a leading "*." is accepted and means
// the same thing.
func HostMatches(rule, host string) bool {
	rule = normalizeHost(strings.TrimPrefix(normalizeHost(rule), "*."))
	if rule == "" || host == "" {
		return false
	}
	if host == rule {
		return true
	}
	return strings.HasSuffix(host, "."+rule)
}
