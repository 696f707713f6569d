package security

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDetector_ExtractClientIP(t *testing.T) {
	d := NewDetector(nil)
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		want       string
	}{
		{"direct connection", "203.0.113.5:1234", "", "203.0.113.5"},
		{"trusted proxy forwards", "10.0.0.2:80", "198.51.100.7, 10.0.0.2", "198.51.100.7"},
		{"untrusted proxy ignored", "203.0.113.5:1234", "198.51.100.7", "203.0.113.5"},
		{"garbage forwarded header", "127.0.0.1:80", "not-an-ip", "127.0.0.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := d.ExtractClientIP(r); got != tt.want {
				t.Errorf("ExtractClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
	if d.GetMetrics().InvalidIPAttempts != 1 {
		t.Errorf("expected one invalid IP attempt, got %d", d.GetMetrics().InvalidIPAttempts)
	}
}

func TestDetector_DetectSuspiciousRequest(t *testing.T) {
	d := NewDetector(nil)
	tests := []struct {
		path  string
		agent string
		want  bool
	}{
		{"/categories", "ledgerctl/1.0", false},
		{"/transactions?start=2024-05-01&end=2024-05-31", "curl/8.0", false},
		{"/../../etc/passwd", "", true},
		{"/.env", "", true},
		{"/categories", "sqlmap/1.7", true},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "http://example.com"+tt.path, nil)
		r.Header.Set("User-Agent", tt.agent)
		if got := d.DetectSuspiciousRequest(r); got != tt.want {
			t.Errorf("DetectSuspiciousRequest(%q, %q) = %v, want %v", tt.path, tt.agent, got, tt.want)
		}
	}
}

func TestDetector_MiddlewareRejectsTrace(t *testing.T) {
	d := NewDetector(nil)
	h := d.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("TRACE", "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestHeadersMiddleware(t *testing.T) {
	h := NewHeadersMiddleware(DefaultHeadersConfig()).Middleware(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, name := range []string{"X-Content-Type-Options", "X-Frame-Options", "Content-Security-Policy", "Cache-Control"} {
		if rec.Header().Get(name) == "" {
			t.Errorf("missing %s", name)
		}
	}
	if rec.Header().Get("Strict-Transport-Security") != "" {
		t.Error("HSTS must only be sent over TLS")
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.TLS = &tls.ConnectionState{}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Strict-Transport-Security") == "" {
		t.Error("expected HSTS over TLS")
	}
}
