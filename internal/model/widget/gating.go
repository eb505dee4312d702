package widget

import (
	"net"
	"net/url"
	"strconv"
	"strings"
)

// GatingState selects which UI variant a mount renders.
type GatingState string

const (
	GatingActive   GatingState = "active"
	GatingInactive GatingState = "inactive"
	// GatingPreview is an active account rendered inside a builder preview.
	GatingPreview GatingState = "preview"
)

// Valid reports whether s is one of the known states.
func (s GatingState) Valid() bool {
	switch s {
	case GatingActive, GatingInactive, GatingPreview:
		return true
	}
	return false
}

// PageContext describes the host page a mount runs in.
type PageContext struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer"`
}

// PreviewRules configures how preview mounts are recognised.
type PreviewRules struct {
	QueryParam string
	Referrers  []string
}

// DetectPreview reports whether a mount runs in a preview context: the
// explicit flag, a query marker on the page URL, a builder referrer or a
// loopback host.
func DetectPreview(cfg Config, page PageContext, rules PreviewRules) bool {
	if cfg.IsPreview {
		return true
	}

	if u, err := url.Parse(page.URL); err == nil && u.Host != "" {
		if rules.QueryParam != "" && u.Query().Has(rules.QueryParam) {
			raw := u.Query().Get(rules.QueryParam)
			if on, err := strconv.ParseBool(raw); raw == "" || (err == nil && on) {
				return true
			}
		}
		if isLoopback(u.Hostname()) {
			return true
		}
	}

	if page.Referrer != "" {
		if ref, err := url.Parse(page.Referrer); err == nil {
			host := strings.ToLower(ref.Hostname())
			for _, candidate := range rules.Referrers {
				candidate = strings.ToLower(strings.TrimSpace(candidate))
				if candidate == "" {
					continue
				}
				if host == candidate || strings.HasSuffix(host, "."+candidate) {
					return true
				}
			}
		}
	}
	return false
}

func isLoopback(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
