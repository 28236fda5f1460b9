package policy

import "testing"

func baseInput() Input {
	return Input{
		Tab:         TabState{URL: "https://example.com/page"},
		Activity:    &ActivityRef{LastActiveAtMinute: 100, LastUpdatedAtMinute: 100},
		IdleMinutes: 60,
		SkipPinned:  true,
		SkipAudible: true,
		NowMinute:   160,
	}
}

func TestEvaluateEligibleAtExactThreshold(t *testing.T) {
	in := baseInput()
	got := Evaluate(in)
	if !got.ShouldSuspend || got.Reason != ReasonEligible {
		t.Fatalf("Evaluate() = %+v, want eligible", got)
	}

	in.NowMinute = 159
	got = Evaluate(in)
	if got.ShouldSuspend || got.Reason != ReasonTimeoutNotReached {
		t.Fatalf("Evaluate() one minute early = %+v, want timeoutNotReached", got)
	}
}

func TestEvaluateOrderIsTotal(t *testing.T) {
	// A tab that trips every disqualifying condition must report the
	// earliest-listed reason.
	no := false
	in := Input{
		Tab:          TabState{Active: true, Pinned: true, Audible: true, URL: "about:blank"},
		Activity:     nil,
		IdleMinutes:  60,
		SkipPinned:   true,
		SkipAudible:  true,
		NowMinute:    500,
		URLTooLong:   true,
		ExcludedHost: true,
	}
	steps := []struct {
		mutate func(*Input)
		want   Reason
	}{
		{func(*Input) {}, ReasonActive},
		{func(i *Input) { i.Tab.Active = false }, ReasonPinned},
		{func(i *Input) { i.Tab.Pinned = false }, ReasonAudible},
		{func(i *Input) { i.Tab.Audible = false }, ReasonInternalURL},
		{func(i *Input) { i.InternalURL = &no; i.Tab.URL = "https://example.com" }, ReasonURLTooLong},
		{func(i *Input) { i.URLTooLong = false }, ReasonExcludedHost},
		{func(i *Input) { i.ExcludedHost = false }, ReasonTimeoutNotReached},
		{func(i *Input) { i.Activity = &ActivityRef{LastActiveAtMinute: 1, LastUpdatedAtMinute: 1} }, ReasonEligible},
	}
	for _, step := range steps {
		step.mutate(&in)
		got := Evaluate(in)
		if got.Reason != step.want {
			t.Fatalf("Reason = %q, want %q", got.Reason, step.want)
		}
	}
}

func TestEvaluateIdleReferenceUsesLatestMinute(t *testing.T) {
	in := baseInput()
	// The tab was backgrounded (updated) well after its last interaction;
	// the idle clock starts from the later minute.
	in.Activity = &ActivityRef{LastActiveAtMinute: 10, LastUpdatedAtMinute: 120}
	in.NowMinute = 179
	if got := Evaluate(in); got.ShouldSuspend {
		t.Fatalf("Evaluate() = %+v, want not suspended before updated+idle", got)
	}
	in.NowMinute = 180
	if got := Evaluate(in); !got.ShouldSuspend {
		t.Fatalf("Evaluate() = %+v, want suspended at updated+idle", got)
	}
}

func TestEvaluateNoActivityRecord(t *testing.T) {
	in := baseInput()
	in.Activity = nil
	got := Evaluate(in)
	if got.ShouldSuspend || got.Reason != ReasonTimeoutNotReached {
		t.Fatalf("Evaluate() without record = %+v, want timeoutNotReached", got)
	}
}

func TestEvaluateSkipFlagsDisabled(t *testing.T) {
	in := baseInput()
	in.Tab.Pinned = true
	in.Tab.Audible = true
	in.SkipPinned = false
	in.SkipAudible = false
	got := Evaluate(in)
	if !got.ShouldSuspend {
		t.Fatalf("Evaluate() = %+v, want eligible when skip flags disabled", got)
	}
}

func TestEvaluateInternalURLOverride(t *testing.T) {
	in := baseInput()
	in.Tab.URL = "chrome://settings"
	yes := true
	no := false

	if got := Evaluate(in); got.Reason != ReasonInternalURL {
		t.Fatalf("Reason = %q, want derived internalUrl", got.Reason)
	}

	in.InternalURL = &no
	if got := Evaluate(in); got.Reason == ReasonInternalURL {
		t.Fatalf("override false should skip internalUrl check, got %q", got.Reason)
	}

	in.Tab.URL = "https://example.com"
	in.InternalURL = &yes
	if got := Evaluate(in); got.Reason != ReasonInternalURL {
		t.Fatalf("override true should force internalUrl, got %q", got.Reason)
	}
}

func TestIsInternalURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://example.com", false},
		{"http://example.com/a?b=c", false},
		{"chrome://extensions", true},
		{"about:blank", true},
		{"file:///tmp/x.html", true},
		{"", true},
		{"://not a url", true},
	}
	for _, tc := range cases {
		if got := IsInternalURL(tc.url); got != tc.want {
			t.Fatalf("IsInternalURL(%q) = %v, want %v", tc.url, got, tc.want)
		}
	}
}

func TestEvaluateScenarioFromSettings(t *testing.T) {
	// idleMinutes 60, skipPinned, non-pinned background tab last active at
	// minute 100.
	in := Input{
		Tab:         TabState{URL: "https://example.com"},
		Activity:    &ActivityRef{LastActiveAtMinute: 100, LastUpdatedAtMinute: 100},
		IdleMinutes: 60,
		SkipPinned:  true,
		NowMinute:   160,
	}
	if got := Evaluate(in); !got.ShouldSuspend || got.Reason != ReasonEligible {
		t.Fatalf("at minute 160: %+v, want eligible", got)
	}
	in.NowMinute = 159
	if got := Evaluate(in); got.ShouldSuspend || got.Reason != ReasonTimeoutNotReached {
		t.Fatalf("at minute 159: %+v, want timeoutNotReached", got)
	}
}
