package status

import (
	"net/http/httptest"
	"testing"

	"relaychat/util"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"https://Chat.Example.com", "https://chat.example.com", true},
		{"HTTP://localhost:3000", "http://localhost:3000", true},
		{"https://chat.example.com/path?q=1", "https://chat.example.com", true},
		{"chat.example.com", "", false},
		{"", "", false},
		{"://broken", "", false},
	}
	for _, tt := range tests {
		got, ok := normalizeOrigin(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("normalizeOrigin(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOriginPolicy(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		host    string
		origin  string
		want    bool
	}{
		{"no header", []string{"https://a.example"}, "chat:3000", "", true},
		{"wildcard", []string{"*"}, "chat:3000", "https://anywhere.example", true},
		{"listed", []string{"https://a.example"}, "chat:3000", "https://a.example", true},
		{"listed case-insensitive", []string{"https://A.example"}, "chat:3000", "HTTPS://a.EXAMPLE", true},
		{"not listed", []string{"https://a.example"}, "chat:3000", "https://b.example", false},
		{"scheme matters", []string{"https://a.example"}, "chat:3000", "http://a.example", false},
		{"same host by default", nil, "chat:3000", "http://chat:3000", true},
		{"other host by default", nil, "chat:3000", "http://elsewhere:3000", false},
		{"malformed", []string{"*"}, "chat:3000", "not an origin", true},
		{"malformed without wildcard", nil, "chat:3000", "not an origin", false},
		{"blank entries ignored", []string{" ", "bogus"}, "chat:3000", "http://chat:3000", true},
	}
	logger := util.NewLogger(0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, logger)
			r := httptest.NewRequest("GET", "http://"+tt.host+"/ws", nil)
			r.Host = tt.host
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := p.check(r); got != tt.want {
				t.Errorf("check() = %v, want %v", got, tt.want)
			}
		})
	}
}
