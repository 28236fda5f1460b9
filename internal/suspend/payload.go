package suspend

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPlaceholderPrefix is where the extension serves the suspended
	// placeholder page from.
	DefaultPlaceholderPrefix = "chrome-extension://tabnap/suspended.html"

	maxTitleRunes = 128
	maxURLLength  = 2048
)

var errNotRestorable = errors.New("url is not restorable")

// Payload carries everything needed to restore a suspended tab. It is
// encoded entirely into the placeholder URL, so restoration needs no
// daemon round trip.
type Payload struct {
	URL               string `json:"url"`
	Title             string `json:"title"`
	SuspendedAtMinute int64  `json:"suspended_at_minute"`
}

// BuildPlaceholderURL encodes a payload into the placeholder page URL.
// It fails if the original URL cannot be safely reconstructed; a tab must
// never be suspended into a placeholder it cannot come back from.
func BuildPlaceholderURL(prefix string, p Payload) (string, error) {
	if err := ValidateRestorable(p.URL); err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("url", p.URL)
	q.Set("title", TrimTitle(p.Title))
	q.Set("at", strconv.FormatInt(p.SuspendedAtMinute, 10))
	return prefix + "?" + q.Encode(), nil
}

// DecodePlaceholderURL recovers the payload from a placeholder URL.
func DecodePlaceholderURL(raw string) (Payload, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return Payload{}, false
	}
	q := u.Query()
	orig := q.Get("url")
	if orig == "" {
		return Payload{}, false
	}
	at, err := strconv.ParseInt(q.Get("at"), 10, 64)
	if err != nil {
		at = 0
	}
	return Payload{URL: orig, Title: q.Get("title"), SuspendedAtMinute: at}, true
}

// IsPlaceholderURL reports whether a tab is already showing the suspended
// placeholder.
func IsPlaceholderURL(prefix, raw string) bool {
	return prefix != "" && strings.HasPrefix(raw, prefix)
}

// ValidateRestorable checks that a URL can survive the encode/decode round
// trip: parseable, plain http(s) with a host, and within length bounds.
func ValidateRestorable(raw string) error {
	if raw == "" {
		return errNotRestorable
	}
	if len(raw) > maxURLLength {
		return fmt.Errorf("%w: longer than %d bytes", errNotRestorable, maxURLLength)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", errNotRestorable, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: scheme %q", errNotRestorable, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", errNotRestorable)
	}
	return nil
}

// TrimTitle collapses surrounding whitespace and caps the title length so
// placeholder URLs stay bounded.
func TrimTitle(title string) string {
	title = strings.TrimSpace(title)
	runes := []rune(title)
	if len(runes) > maxTitleRunes {
		return string(runes[:maxTitleRunes])
	}
	return title
}
