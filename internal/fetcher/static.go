package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/temoto/robotstxt"
	"golang.org/x/sync/errgroup"

	"skrapp/internal/blocking"
	"skrapp/internal/config"
	"skrapp/internal/model"
	"skrapp/internal/pipeline"
	"skrapp/internal/urlutil"
)

const maxBodyBytes = 2 << 20

// Static crawls a site breadth-first over plain HTTP.
type Static struct {
	cfg      *config.Config
	throttle *Throttle
	tracker  *blocking.Tracker
	logger   *slog.Logger
	client   *http.Client
}

func NewStatic(cfg *config.Config, tracker *blocking.Tracker, logger *slog.Logger) *Static {
	return &Static{
		cfg:      cfg,
		throttle: NewThrottle(time.Duration(cfg.Crawler.DownloadDelayMs) * time.Millisecond),
		tracker:  tracker,
		logger:   logger,
		client: &http.Client{
			Timeout: 30 * time.Second,
			// redirects are followed manually so Location headers feed
			// the blocking tracker
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

type crawlState struct {
	mu     sync.Mutex
	seen   map[string]struct{}
	errors []string
}

func (c *crawlState) markSeen(u string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[u]; ok {
		return false
	}
	c.seen[u] = struct{}{}
	return true
}

func (c *crawlState) addError(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.errors) < 50 {
		c.errors = append(c.errors, msg)
	}
}

func (s *Static) Run(ctx context.Context, job *model.Job, p *pipeline.Pipeline) (*Result, error) {
	start := urlutil.Canonicalize(job.StartURL)
	state := &crawlState{seen: map[string]struct{}{start: {}}}

	var robots *robotstxt.Group
	if s.cfg.Crawler.RespectRobots {
		robots = s.fetchRobots(ctx, job)
	}

	hostSem := make(chan struct{}, s.cfg.Crawler.PerHostConcurrency)

	level := []string{start}
	for depth := 0; depth <= s.cfg.Crawler.DepthLimit && len(level) > 0; depth++ {
		if ctx.Err() != nil || p.BudgetExhausted() {
			break
		}

		var nextMu sync.Mutex
		var next []string

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Crawler.ConcurrentRequests)

		for _, u := range level {
			u, depth := u, depth
			g.Go(func() error {
				if gctx.Err() != nil || p.BudgetExhausted() {
					return nil
				}
				links := s.fetchOne(gctx, job, p, state, robots, u, depth, hostSem)
				nextMu.Lock()
				next = append(next, links...)
				nextMu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			break
		}

		level = next
	}

	return &Result{
		PagesFetched: p.PagesEmitted(),
		ErrorsCount:  p.ErrorCount(),
		Errors:       state.errors,
	}, nil
}

// fetchOne fetches a single URL, records it, and returns newly discovered
// in-scope links.
func (s *Static) fetchOne(ctx context.Context, job *model.Job, p *pipeline.Pipeline, state *crawlState, robots *robotstxt.Group, pageURL string, depth int, hostSem chan struct{}) []string {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}

	if robots != nil && !robots.Test(parsed.RequestURI()) {
		s.logger.Debug("robots disallows url", "job_id", job.ID, "url", pageURL)
		return nil
	}

	if err := s.throttle.Wait(ctx, parsed.Hostname()); err != nil {
		return nil
	}

	select {
	case hostSem <- struct{}{}:
		defer func() { <-hostSem }()
	case <-ctx.Done():
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", s.cfg.Crawler.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		msg := fmt.Sprintf("%s: %v", pageURL, err)
		state.addError(msg)
		s.emit(ctx, p, pipeline.RawPage{URL: pageURL, CanonicalURL: pageURL, Depth: depth, FetchError: err.Error()})
		return nil
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	contentType := resp.Header.Get("Content-Type")
	location := resp.Header.Get("Location")

	html := ""
	if strings.Contains(strings.ToLower(contentType), "html") {
		html = string(body)
	}

	s.tracker.RecordResponse(pageURL, resp.StatusCode, html, location)
	s.throttle.Observe(parsed.Hostname(), resp.StatusCode, resp.Header.Get("Retry-After"))

	page := pipeline.RawPage{
		URL:          pageURL,
		CanonicalURL: pageURL,
		StatusCode:   resp.StatusCode,
		ContentType:  contentType,
		HTML:         html,
		Depth:        depth,
	}

	var links []string
	switch {
	case resp.StatusCode >= 300 && resp.StatusCode < 400 && location != "":
		var ignored int
		if target := admitLink(job, state, parsed, location, &ignored); target != "" {
			links = append(links, target)
		}
	case resp.StatusCode == 200 && html != "":
		links = extractLinks(job, state, parsed, html, &page.OutlinksCount)
	}

	s.emit(ctx, p, page)
	return links
}

func (s *Static) emit(ctx context.Context, p *pipeline.Pipeline, page pipeline.RawPage) {
	if err := p.Process(ctx, page); err != nil {
		s.logger.Warn("pipeline rejected page", "url", page.URL, "error", err)
	}
}

// extractLinks parses anchors, counts the in-scope ones, and returns those
// not yet seen.
func extractLinks(job *model.Job, state *crawlState, base *url.URL, html string, outlinks *int) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var links []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		target := admitLink(job, state, base, href, outlinks)
		if target != "" {
			links = append(links, target)
		}
	})
	return links
}

// admitLink resolves and canonicalizes a link, bumps the in-scope counter,
// and returns the URL when it has not been crawled yet.
func admitLink(job *model.Job, state *crawlState, base *url.URL, href string, inScope *int) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "javascript:") {
		return ""
	}

	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	resolved := base.ResolveReference(ref).String()
	canonical := urlutil.Canonicalize(resolved)

	if !urlutil.InScope(canonical, job.AllowedHost, job.IgnorePrefixes) {
		return ""
	}
	*inScope++

	if !state.markSeen(canonical) {
		return ""
	}
	return canonical
}

// fetchRobots loads robots.txt once per run. Any failure means crawling
// proceeds unrestricted.
func (s *Static) fetchRobots(ctx context.Context, job *model.Job) *robotstxt.Group {
	u, err := url.Parse(job.StartURL)
	if err != nil {
		return nil
	}
	robotsURL := u.Scheme + "://" + u.Host + "/robots.txt"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", s.cfg.Crawler.UserAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		s.logger.Debug("robots.txt parse failed", "job_id", job.ID, "error", err)
		return nil
	}
	return data.FindGroup(s.cfg.Crawler.UserAgent)
}
