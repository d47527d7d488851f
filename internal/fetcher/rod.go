package fetcher

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"skrapp/internal/blocking"
	"skrapp/internal/config"
	"skrapp/internal/model"
	"skrapp/internal/pipeline"
	"skrapp/internal/urlutil"
)

// Rod crawls a site depth-first through a real browser so JS-rendered
// content is available. The DevTools protocol does not surface HTTP status
// for the main document, so rendered pages are recorded as 200.
type Rod struct {
	cfg      *config.Config
	throttle *Throttle
	tracker  *blocking.Tracker
	logger   *slog.Logger
}

func NewRod(cfg *config.Config, tracker *blocking.Tracker, logger *slog.Logger) *Rod {
	return &Rod{
		cfg:      cfg,
		throttle: NewThrottle(time.Duration(cfg.Crawler.DownloadDelayMs) * time.Millisecond),
		tracker:  tracker,
		logger:   logger,
	}
}

type stackItem struct {
	url   string
	depth int
}

func (r *Rod) Run(ctx context.Context, job *model.Job, p *pipeline.Pipeline) (*Result, error) {
	browser := rod.New().Context(ctx)
	if r.cfg.Rod.BrowserURL != "" {
		browser = browser.ControlURL(r.cfg.Rod.BrowserURL)
	}
	if err := browser.Connect(); err != nil {
		return nil, err
	}
	defer browser.Close()

	start := urlutil.Canonicalize(job.StartURL)
	state := &crawlState{seen: map[string]struct{}{start: {}}}
	settle := time.Duration(r.cfg.Rod.SettleDelayMs) * time.Millisecond

	stack := []stackItem{{url: start, depth: 0}}
	for len(stack) > 0 {
		if ctx.Err() != nil || p.BudgetExhausted() {
			break
		}

		item := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		links := r.renderOne(ctx, browser, job, p, state, item, settle)
		for i := len(links) - 1; i >= 0; i-- {
			if item.depth+1 <= r.cfg.Crawler.DepthLimit {
				stack = append(stack, stackItem{url: links[i], depth: item.depth + 1})
			}
		}
	}

	return &Result{
		PagesFetched: p.PagesEmitted(),
		ErrorsCount:  p.ErrorCount(),
		Errors:       state.errors,
	}, nil
}

func (r *Rod) renderOne(ctx context.Context, browser *rod.Browser, job *model.Job, p *pipeline.Pipeline, state *crawlState, item stackItem, settle time.Duration) []string {
	parsed, err := url.Parse(item.url)
	if err != nil {
		return nil
	}

	if err := r.throttle.Wait(ctx, parsed.Hostname()); err != nil {
		return nil
	}

	html, err := r.render(browser, item.url, settle)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		r.logger.Warn("browser render failed", "job_id", job.ID, "url", item.url, "error", err)
		state.addError(item.url + ": " + err.Error())
		r.emit(ctx, p, pipeline.RawPage{URL: item.url, CanonicalURL: item.url, Depth: item.depth, FetchError: err.Error()})
		return nil
	}

	r.tracker.RecordResponse(item.url, 200, html, "")
	r.throttle.Observe(parsed.Hostname(), 200, "")

	page := pipeline.RawPage{
		URL:          item.url,
		CanonicalURL: item.url,
		StatusCode:   200,
		ContentType:  "text/html",
		HTML:         html,
		Depth:        item.depth,
	}

	links := extractLinks(job, state, parsed, html, &page.OutlinksCount)
	if len(links) > r.cfg.Rod.MaxLinksPerPage {
		links = links[:r.cfg.Rod.MaxLinksPerPage]
	}

	r.emit(ctx, p, page)
	return links
}

func (r *Rod) render(browser *rod.Browser, pageURL string, settle time.Duration) (string, error) {
	page, err := browser.Page(proto.TargetCreateTarget{URL: pageURL})
	if err != nil {
		return "", err
	}
	defer page.Close()

	if err := page.WaitLoad(); err != nil {
		return "", err
	}
	if err := page.WaitIdle(10 * time.Second); err != nil {
		return "", err
	}
	// give client-side routers a moment to paint
	time.Sleep(settle)

	return page.HTML()
}

func (r *Rod) emit(ctx context.Context, p *pipeline.Pipeline, page pipeline.RawPage) {
	if err := p.Process(ctx, page); err != nil {
		r.logger.Warn("pipeline rejected page", "url", page.URL, "error", err)
	}
}
