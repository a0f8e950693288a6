package service

import (
	"net/url"
	"strings"
)

// originMatcher checks a request origin against exact origins and
// "scheme://*.domain" wildcard entries.
type originMatcher struct {
	exact     map[string]bool
	wildcards []wildcardOrigin
	any       bool
}

type wildcardOrigin struct {
	scheme string
	suffix string // ".domain", leading dot included
}

func newOriginMatcher(allowed []string) *originMatcher {
	m := &originMatcher{exact: make(map[string]bool)}
	for _, entry := range allowed {
		entry = strings.ToLower(strings.TrimRight(strings.TrimSpace(entry), "/"))
		switch {
		case entry == "":
		case entry == "*":
			m.any = true
		case strings.Contains(entry, "://*."):
			scheme, host, _ := strings.Cut(entry, "://")
			m.wildcards = append(m.wildcards, wildcardOrigin{scheme: scheme, suffix: strings.TrimPrefix(host, "*")})
		default:
			m.exact[entry] = true
		}
	}
	return m
}

// allowed uses the Origin header, falling back to the origin of the Referer.
func (m *originMatcher) allowed(origin, referer string) (string, bool) {
	candidate := strings.ToLower(strings.TrimRight(strings.TrimSpace(origin), "/"))
	if candidate == "" || candidate == "null" {
		candidate = refererOrigin(referer)
	}
	if candidate == "" {
		return "", false
	}
	if m.any || m.exact[candidate] {
		return candidate, true
	}

	u, err := url.Parse(candidate)
	if err != nil || u.Host == "" {
		return candidate, false
	}
	host := u.Hostname()
	if u.Port() != "" {
		host = u.Host
	}
	for _, w := range m.wildcards {
		if u.Scheme == w.scheme && strings.HasSuffix(host, w.suffix) && len(host) > len(w.suffix) {
			return candidate, true
		}
	}
	return candidate, false
}

func refererOrigin(referer string) string {
	if referer == "" {
		return ""
	}
	u, err := url.Parse(strings.TrimSpace(referer))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
