package admission

import (
	"strings"
	"testing"
)

func TestNewJobID(t *testing.T) {
	id := NewJobID()
	if !strings.HasPrefix(id, "job_") {
		t.Fatalf("job id %q missing job_ prefix", id)
	}
	if len(id) != 4+32 {
		t.Fatalf("job id %q has length %d, want 36", id, len(id))
	}
	if id == NewJobID() {
		t.Fatal("two generated job ids collided")
	}
}

func TestHashToken(t *testing.T) {
	token := NewToken()
	if len(token) != 64 {
		t.Fatalf("token length = %d, want 64", len(token))
	}

	h1 := HashToken(token)
	h2 := HashToken(token)
	if h1 != h2 {
		t.Fatal("token hash not deterministic")
	}
	if len(h1) != 64 {
		t.Fatalf("hash length = %d, want 64", len(h1))
	}
	if h1 == HashToken(token+"x") {
		t.Fatal("different tokens produced the same hash")
	}
}

func TestValidateStartURL(t *testing.T) {
	cases := []struct {
		url      string
		wantHost string
		wantErr  bool
	}{
		{"https://example.com/docs", "example.com", false},
		{"http://docs.example.com", "docs.example.com", false},
		{"  https://example.com  ", "example.com", false},
		{"", "", true},
		{"example.com/docs", "", true},
		{"ftp://example.com", "", true},
		{"https://localhost/admin", "", true},
		{"http://127.0.0.1:5000/", "", true},
		{"http://10.0.0.5/", "", true},
		{"http://192.168.1.1/", "", true},
		{"http://[::1]/", "", true},
		{"https://bad_host.com/", "", true},
		{"https://93.184.216.34/", "93.184.216.34", false},
	}

	for _, tc := range cases {
		host, err := ValidateStartURL(tc.url)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("ValidateStartURL(%q) succeeded, want error", tc.url)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ValidateStartURL(%q) error: %v", tc.url, err)
		}
		if host != tc.wantHost {
			t.Fatalf("ValidateStartURL(%q) host = %q, want %q", tc.url, host, tc.wantHost)
		}
	}
}

func TestClampInt(t *testing.T) {
	if got := ClampInt(nil, 20, 1, 100); got != 20 {
		t.Fatalf("nil value = %d, want default 20", got)
	}

	v := 500
	if got := ClampInt(&v, 20, 1, 100); got != 100 {
		t.Fatalf("oversized value = %d, want 100", got)
	}

	v = 0
	if got := ClampInt(&v, 20, 1, 100); got != 1 {
		t.Fatalf("undersized value = %d, want 1", got)
	}

	v = 42
	if got := ClampInt(&v, 20, 1, 100); got != 42 {
		t.Fatalf("in-range value = %d, want 42", got)
	}
}

func TestNormalizeIgnorePrefixes(t *testing.T) {
	got := NormalizeIgnorePrefixes([]string{"/api", "internal", "  ", ""})
	if len(got) != 2 {
		t.Fatalf("expected 2 prefixes, got %v", got)
	}
	if got[0] != "/api" || got[1] != "/internal" {
		t.Fatalf("unexpected prefixes: %v", got)
	}
}

func TestClientIP(t *testing.T) {
	if ip := ClientIP("1.2.3.4, 5.6.7.8", "", "9.9.9.9"); ip != "1.2.3.4" {
		t.Fatalf("forwarded-for ip = %q, want 1.2.3.4", ip)
	}
	if ip := ClientIP("", "5.6.7.8", "9.9.9.9"); ip != "5.6.7.8" {
		t.Fatalf("real-ip = %q, want 5.6.7.8", ip)
	}
	if ip := ClientIP("", "", "9.9.9.9"); ip != "9.9.9.9" {
		t.Fatalf("remote ip = %q, want 9.9.9.9", ip)
	}
	if ip := ClientIP("", "", ""); ip != "127.0.0.1" {
		t.Fatalf("empty remote = %q, want 127.0.0.1", ip)
	}
}
