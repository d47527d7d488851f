// Package urlutil provides URL canonicalization and crawl scope filtering.
package urlutil

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// trackingParams is the closed set of query keys stripped during
// canonicalization. Keys are compared case-insensitively.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
	"mc_cid":       {},
	"mc_eid":       {},
	"ref":          {},
	"referrer":     {},
	"source":       {},
}

// excludedExtensions are file extensions never worth fetching for text.
var excludedExtensions = map[string]struct{}{
	".png": {}, ".jpg": {}, ".jpeg": {}, ".gif": {}, ".svg": {}, ".ico": {},
	".webp": {}, ".bmp": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".ppt": {},
	".pptx": {},
	".zip": {}, ".tar": {}, ".gz": {}, ".rar": {}, ".7z": {},
	".css": {}, ".js": {}, ".json": {}, ".xml": {},
	".woff": {}, ".woff2": {}, ".ttf": {}, ".eot": {}, ".otf": {},
	".mp3": {}, ".mp4": {}, ".avi": {}, ".mov": {}, ".wmv": {}, ".webm": {},
	".exe": {}, ".dmg": {}, ".pkg": {}, ".deb": {}, ".rpm": {},
}

// denyPatterns remove non-content URLs (auth, search, share, print) that
// inflate the budget without adding documents.
var denyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)/(login|logout|signin|sign-in|signup|sign-up|register|auth)(/|$)`),
	regexp.MustCompile(`(?i)/(search|find)\b`),
	regexp.MustCompile(`(?i)[?&](share|print)=`),
	regexp.MustCompile(`(?i)/print(/|\.|$)`),
	regexp.MustCompile(`(?i)//(www\.)?(facebook|twitter|x|linkedin|pinterest)\.com/(share|intent|sharer)`),
	regexp.MustCompile(`(?i)/cdn-cgi/`),
}

var slashRuns = regexp.MustCompile(`/+`)

// Canonicalize normalizes a URL for deduplication. The result is
// deterministic and idempotent: Canonicalize(Canonicalize(u)) == Canonicalize(u).
func Canonicalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if host, port, ok := splitHostPort(u.Host); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			u.Host = host
		}
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	p = slashRuns.ReplaceAllString(p, "/")
	if strings.HasSuffix(p, "/index.html") || strings.HasSuffix(p, "/index.htm") {
		p = p[:strings.LastIndex(p, "/")+1]
	}
	if p != "/" && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	if p == "" {
		p = "/"
	}
	u.Path = p

	u.RawQuery = stripTracking(u.Query())
	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}

func splitHostPort(host string) (string, string, bool) {
	i := strings.LastIndex(host, ":")
	if i < 0 {
		return host, "", false
	}
	// Bracketed IPv6 without port has no colon after the bracket.
	if strings.HasPrefix(host, "[") && !strings.Contains(host[strings.Index(host, "]"):], ":") {
		return host, "", false
	}
	return host[:i], host[i+1:], true
}

// stripTracking drops tracking keys and re-encodes the remaining query in
// sorted order so equivalent URLs compare equal.
func stripTracking(q url.Values) string {
	for key := range q {
		if _, ok := trackingParams[strings.ToLower(key)]; ok {
			q.Del(key)
		}
	}
	return q.Encode()
}

// Hostname extracts the lowercase hostname of a URL, or "" when unparseable.
func Hostname(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// InScope reports whether a URL should be crawled for the given allowed
// host and ignore prefixes. Host matching is exact; subdomains are out.
func InScope(raw, allowedHost string, ignorePrefixes []string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return false
	}

	if strings.ToLower(u.Hostname()) != strings.ToLower(allowedHost) {
		return false
	}

	p := u.Path
	if p == "" {
		p = "/"
	}
	for _, prefix := range ignorePrefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return false
		}
	}

	if _, ok := excludedExtensions[strings.ToLower(path.Ext(p))]; ok {
		return false
	}

	for _, re := range denyPatterns {
		if re.MatchString(raw) {
			return false
		}
	}

	return true
}
