// Package blocking detects anti-crawling measures: captchas, WAF blocks,
// login walls, rate limiting, and duplicate-content serving.
package blocking

import (
	"encoding/json"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"skrapp/internal/model"
)

var captchaPatterns = compile([]string{
	`cf-browser-verification`,
	`cf-challenge`,
	`cloudflare`,
	`checking\s+your\s+browser`,
	`please\s+wait.*redirect`,
	`g-recaptcha`,
	`recaptcha/api`,
	`hcaptcha`,
	`challenge-platform`,
	`verify\s+you\s+are\s+(human|not\s+a\s+robot)`,
	`please\s+complete\s+the\s+security\s+check`,
	`access\s+denied`,
	`blocked\s+by.*firewall`,
})

var wafPatterns = compile([]string{
	`blocked\s+by\s+mod_security`,
	`web\s+application\s+firewall`,
	`request\s+blocked`,
	`sucuri`,
	`incapsula`,
	`akamai`,
	`imperva`,
})

var loginPathPatterns = []string{
	"/login",
	"/signin",
	"/sign-in",
	"/auth",
	"/authenticate",
	"/sso",
	"/oauth",
	"/account/login",
	"/user/login",
}

var metaRefreshRe = regexp.MustCompile(`(?i)<meta[^>]+http-equiv=["']?refresh["']?[^>]+content=["']?\d+;\s*url=([^"'>\s]+)`)

func compile(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(`(?i)` + p)
	}
	return out
}

func scan(html string, patterns []*regexp.Regexp) []string {
	var matched []string
	for _, re := range patterns {
		if re.MatchString(html) {
			matched = append(matched, re.String())
		}
	}
	return matched
}

// IsLoginRedirect reports whether a URL or Location header points at a
// login endpoint.
func IsLoginRedirect(target string) bool {
	if target == "" {
		return false
	}
	lower := strings.ToLower(target)
	for _, p := range loginPathPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func metaRefreshLogin(html string) bool {
	m := metaRefreshRe.FindStringSubmatch(html)
	if m == nil {
		return false
	}
	return IsLoginRedirect(m[1])
}

// Tracker aggregates per-response blocking signals over one crawl attempt.
// It is safe for concurrent use by fetch workers.
type Tracker struct {
	mu             sync.Mutex
	statusCodes    map[int]int
	totalResponses int
	captchaHits    int
	wafHits        int
	loginRedirects int
	textHashes     map[string]int
	sampleURLs     []string
	signatureHits  map[string]struct{}
}

func NewTracker() *Tracker {
	return &Tracker{
		statusCodes:   make(map[int]int),
		textHashes:    make(map[string]int),
		signatureHits: make(map[string]struct{}),
	}
}

// RecordResponse records one fetched response. Only the first 10 KB of the
// body is scanned for signatures.
func (t *Tracker) RecordResponse(url string, statusCode int, html, locationHeader string) {
	if len(html) > 10000 {
		html = html[:10000]
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalResponses++
	t.statusCodes[statusCode]++

	if html != "" {
		if matched := scan(html, captchaPatterns); len(matched) > 0 {
			t.captchaHits++
			t.addSignatures(matched)
			t.addSample(url)
		}
		if matched := scan(html, wafPatterns); len(matched) > 0 {
			t.wafHits++
			t.addSignatures(matched)
		}
		if metaRefreshLogin(html) {
			t.loginRedirects++
		}
	}

	if locationHeader != "" && IsLoginRedirect(locationHeader) {
		t.loginRedirects++
		t.addSample(url)
	}
}

// RecordTextHash feeds the duplicate-content signal.
func (t *Tracker) RecordTextHash(hash string) {
	if hash == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.textHashes[hash]++
}

func (t *Tracker) addSignatures(patterns []string) {
	for _, p := range patterns {
		t.signatureHits[p] = struct{}{}
	}
}

func (t *Tracker) addSample(url string) {
	if len(t.sampleURLs) < 5 {
		t.sampleURLs = append(t.sampleURLs, url)
	}
}

func (t *Tracker) duplicateRatioLocked() float64 {
	total := 0
	for _, n := range t.textHashes {
		total += n
	}
	if total == 0 {
		return 0
	}
	return 1.0 - float64(len(t.textHashes))/float64(total)
}

// Evidence snapshots the tracker into the persisted evidence shape.
func (t *Tracker) Evidence() model.BlockingEvidence {
	t.mu.Lock()
	defer t.mu.Unlock()

	codes := make(map[string]int, len(t.statusCodes))
	for code, n := range t.statusCodes {
		codes[strconv.Itoa(code)] = n
	}

	sigs := make([]string, 0, len(t.signatureHits))
	for s := range t.signatureHits {
		sigs = append(sigs, s)
	}
	sort.Strings(sigs)
	if len(sigs) > 10 {
		sigs = sigs[:10]
	}

	samples := make([]string, len(t.sampleURLs))
	copy(samples, t.sampleURLs)

	return model.BlockingEvidence{
		TotalResponses: t.totalResponses,
		StatusCodes:    codes,
		CaptchaHits:    t.captchaHits,
		WAFHits:        t.wafHits,
		LoginRedirects: t.loginRedirects,
		DuplicateRatio: round3(t.duplicateRatioLocked()),
		SampleURLs:     samples,
		SignatureHits:  sigs,
	}
}

// WriteEvidence persists the evidence snapshot as JSON for the runner to
// analyze after the fetcher exits.
func (t *Tracker) WriteEvidence(path string) error {
	data, err := json.Marshal(t.Evidence())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
