package status

import (
	"net/http"
	"net/url"
	"strings"

	"relaychat/util"
)

// originPolicy decides which browser origins may open /ws.
type originPolicy struct {
	allowAll bool
	allowed  map[string]struct{}
	logger   *util.Logger
}

func newOriginPolicy(origins []string, logger *util.Logger) *originPolicy {
	p := &originPolicy{allowed: make(map[string]struct{}), logger: logger}
	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		if trimmed == "*" {
			p.allowAll = true
			continue
		}
		normalized, ok := normalizeOrigin(trimmed)
		if !ok {
			logger.Warn("ignoring invalid origin in configuration: %q", origin)
			continue
		}
		p.allowed[normalized] = struct{}{}
	}
	return p
}

// normalizeOrigin reduces an origin to lower-case "scheme://host[:port]".
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// check is the websocket.Upgrader CheckOrigin hook.  Requests without
// an Origin header come from non-browser clients and are let through.
// With no configured origins only same-host pages may connect.
func (p *originPolicy) check(r *http.Request) bool {
	header := r.Header.Get("Origin")
	if header == "" {
		return true
	}
	if p.allowAll {
		return true
	}

	origin, ok := normalizeOrigin(header)
	if !ok {
		p.logger.Warn("blocked WebSocket connection with malformed origin %q", header)
		return false
	}

	if len(p.allowed) == 0 {
		u, _ := url.Parse(origin)
		if strings.EqualFold(u.Host, r.Host) {
			return true
		}
	} else if _, exists := p.allowed[origin]; exists {
		return true
	}

	p.logger.Warn("blocked WebSocket connection from disallowed origin %q", header)
	return false
}
