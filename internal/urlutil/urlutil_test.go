package urlutil

import "testing"

func TestCanonicalize(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"HTTP://Example.COM/Docs/", "http://example.com/Docs"},
		{"https://example.com:443/a//b///c", "https://example.com/a/b/c"},
		{"http://example.com:80/", "http://example.com/"},
		{"https://example.com/docs/index.html", "https://example.com/docs"},
		{"https://example.com/index.htm", "https://example.com/"},
		{"https://example.com/page#section-2", "https://example.com/page"},
		{"https://example.com/page?utm_source=x&utm_medium=y", "https://example.com/page"},
		{"https://example.com/page?b=2&a=1&fbclid=abc", "https://example.com/page?a=1&b=2"},
		{"https://example.com", "https://example.com/"},
	}

	for _, tc := range cases {
		if got := Canonicalize(tc.in); got != tc.want {
			t.Fatalf("Canonicalize(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestCanonicalizeIdempotent(t *testing.T) {
	urls := []string{
		"https://Example.com:443/a//b/index.html?utm_source=x&q=1#frag",
		"http://example.com/docs/guide/",
		"https://example.com/?ref=nav",
	}

	for _, u := range urls {
		once := Canonicalize(u)
		twice := Canonicalize(once)
		if once != twice {
			t.Fatalf("Canonicalize not idempotent for %q: %q != %q", u, once, twice)
		}
	}
}

func TestInScope(t *testing.T) {
	cases := []struct {
		url      string
		host     string
		prefixes []string
		want     bool
	}{
		{"https://example.com/docs", "example.com", nil, true},
		{"http://example.com/", "example.com", nil, true},
		{"ftp://example.com/docs", "example.com", nil, false},
		{"https://sub.example.com/docs", "example.com", nil, false},
		{"https://other.com/docs", "example.com", nil, false},
		{"https://example.com/private/x", "example.com", []string{"/private"}, false},
		{"https://example.com/docs/x", "example.com", []string{"/private"}, true},
		{"https://example.com/logo.png", "example.com", nil, false},
		{"https://example.com/archive.tar.gz", "example.com", nil, false},
		{"https://example.com/login", "example.com", nil, false},
		{"https://example.com/search?q=x", "example.com", nil, false},
		{"https://example.com/page?print=1", "example.com", nil, false},
		{"https://example.com/blogin", "example.com", nil, true},
	}

	for _, tc := range cases {
		if got := InScope(tc.url, tc.host, tc.prefixes); got != tc.want {
			t.Fatalf("InScope(%q, %q, %v) = %v, want %v", tc.url, tc.host, tc.prefixes, got, tc.want)
		}
	}
}
