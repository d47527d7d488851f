// Package admission handles job identity, token hashing, and input
// validation for job creation.
package admission

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strings"
)

var hostnameRe = regexp.MustCompile(`^[a-z0-9]([a-z0-9\-]*[a-z0-9])?(\.[a-z0-9]([a-z0-9\-]*[a-z0-9])?)*$`)

// NewJobID returns an opaque job identifier of the form job_<32 hex chars>.
func NewJobID() string {
	return "job_" + randomHex(16)
}

// NewToken returns a fresh access token. The raw value is returned to the
// client exactly once; only its hash is stored.
func NewToken() string {
	return randomHex(32)
}

func randomHex(n int) string {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// HashToken hashes a raw token for storage using SHA-256.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// HashIP hashes a client address string for storage.
func HashIP(ip string) string {
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

// ValidateStartURL checks a seed URL and returns its hostname.
func ValidateStartURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("URL is required")
	}

	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return "", errors.New("URL must start with http:// or https://")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errors.New("invalid URL format")
	}
	if u.Scheme == "" || u.Host == "" {
		return "", errors.New("invalid URL format")
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", errors.New("could not extract hostname from URL")
	}

	switch hostname {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return "", errors.New("cannot crawl localhost")
	}

	if ip := net.ParseIP(hostname); ip != nil {
		if ip.IsPrivate() || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return "", errors.New("cannot crawl private or reserved IP addresses")
		}
	} else if !hostnameRe.MatchString(hostname) {
		return "", errors.New("invalid hostname format")
	}

	return hostname, nil
}

// ClampInt validates a numeric parameter against [min, max], falling back
// to the default when absent. Invalid values clamp rather than error.
func ClampInt(value *int, def, min, max int) int {
	if value == nil {
		return def
	}
	v := *value
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// NormalizeIgnorePrefixes drops empty entries and ensures each prefix
// starts with a slash.
func NormalizeIgnorePrefixes(prefixes []string) []string {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out = append(out, p)
	}
	return out
}

// ClientIP extracts the requester address, preferring forwarded headers.
func ClientIP(forwardedFor, realIP, remote string) string {
	if forwardedFor != "" {
		if i := strings.Index(forwardedFor, ","); i >= 0 {
			forwardedFor = forwardedFor[:i]
		}
		return strings.TrimSpace(forwardedFor)
	}
	if realIP != "" {
		return strings.TrimSpace(realIP)
	}
	if remote == "" {
		return "127.0.0.1"
	}
	return remote
}
