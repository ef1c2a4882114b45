package server

import (
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "http://localhost:8080", want: "http://localhost:8080", ok: true},
		{in: "HTTPS://Chat.Example.com", want: "https://chat.example.com", ok: true},
		{in: "https://chat.example.com/path?q=1", want: "https://chat.example.com", ok: true},
		{in: "localhost:8080", ok: false},
		{in: "not a url", ok: false},
		{in: "", ok: false},
	}
	for _, tt := range tests {
		got, ok := normalizeOrigin(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("normalizeOrigin(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestOriginPolicy(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{name: "listed", allowed: []string{"http://localhost:8080"}, origin: "http://localhost:8080", want: true},
		{name: "case insensitive", allowed: []string{"http://LOCALHOST:8080"}, origin: "http://localhost:8080", want: true},
		{name: "unlisted", allowed: []string{"http://localhost:8080"}, origin: "http://evil.example.com", want: false},
		{name: "missing header", allowed: []string{"http://localhost:8080"}, origin: "", want: false},
		{name: "wildcard", allowed: []string{"*"}, origin: "https://anywhere.example", want: true},
		{name: "wildcard still needs an origin", allowed: []string{"*"}, origin: "", want: false},
		{name: "invalid entries ignored", allowed: []string{"garbage", " "}, origin: "http://localhost:8080", want: false},
		{name: "nothing configured", allowed: nil, origin: "http://localhost:8080", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newOriginPolicy(tt.allowed, logger)
			r := httptest.NewRequest("GET", "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			if got := p.check(r); got != tt.want {
				t.Errorf("check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
