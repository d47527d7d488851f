// Package pipeline processes fetched pages into raw JSONL records: text
// extraction, quality scoring, cleanup, content identity, and budget
// accounting.
package pipeline

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"skrapp/internal/blocking"
	"skrapp/internal/extract"
	"skrapp/internal/model"
)

// Identifier assigns stable document identities by content hash.
type Identifier interface {
	// Identify returns the document id for a content hash within a job and
	// whether this hash was already seen under a different URL.
	Identify(ctx context.Context, jobID, contentHash, url string) (string, bool, error)
}

// RawPage is one fetched response handed to the pipeline by a fetcher.
type RawPage struct {
	URL           string
	CanonicalURL  string
	StatusCode    int
	ContentType   string
	HTML          string
	Depth         int
	OutlinksCount int
	FetchError    string
}

// Pipeline serializes page processing for one job and appends records to
// the raw JSONL file. Fetchers may call Process concurrently.
type Pipeline struct {
	job        *model.Job
	minText    int
	identifier Identifier
	tracker    *blocking.Tracker
	logger     *slog.Logger

	mu      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	counted int
	emitted int
	errors  int
}

func New(job *model.Job, minText int, identifier Identifier, tracker *blocking.Tracker, rawPath string, logger *slog.Logger) (*Pipeline, error) {
	f, err := os.OpenFile(rawPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		job:        job,
		minText:    minText,
		identifier: identifier,
		tracker:    tracker,
		logger:     logger,
		file:       f,
		w:          bufio.NewWriter(f),
	}, nil
}

// Process runs one page through the full stage chain and appends its record.
func (p *Pipeline) Process(ctx context.Context, page RawPage) error {
	rec := model.PageRecord{
		JobID:          p.job.ID,
		URL:            page.URL,
		CanonicalURL:   page.CanonicalURL,
		FetchedAt:      time.Now().UTC().Format(time.RFC3339),
		StatusCode:     page.StatusCode,
		ContentType:    page.ContentType,
		Depth:          page.Depth,
		OutlinksCount:  page.OutlinksCount,
		ExtractionMode: model.ExtractFallback,
		Sections:       []model.Section{},
		Breadcrumbs:    []model.Breadcrumb{},
		QualityReasons: []string{},
	}

	switch {
	case page.FetchError != "":
		msg := page.FetchError
		rec.Error = &msg
	case page.StatusCode != 200:
		// non-200 responses are recorded for evidence but carry no content
	case !isHTML(page.ContentType):
		// skip extraction for non-HTML payloads
	default:
		p.extractInto(&rec, page)
	}

	if rec.TextHash != "" {
		p.tracker.RecordTextHash(rec.TextHash)
	}

	if rec.QualityPassed {
		docID, dup, err := p.identifier.Identify(ctx, p.job.ID, rec.TextHash, rec.CanonicalURL)
		if err != nil {
			p.logger.Warn("document identity lookup failed", "job_id", p.job.ID, "url", page.URL, "error", err)
		} else {
			rec.DocumentID = docID
			rec.IsDuplicate = dup
		}
	}
	rec.CountsTowardBudget = rec.QualityPassed && !rec.IsDuplicate

	return p.emit(rec)
}

func (p *Pipeline) extractInto(rec *model.PageRecord, page RawPage) {
	res := extract.Cascade(page.HTML, p.minText)
	q := extract.Score(res.Text, page.HTML, res.Title, p.minText)

	if extract.ShouldRetry(q) {
		if alt := retryMode(res.Mode); alt != "" {
			retry := extract.ByMode(page.HTML, alt)
			rq := extract.Score(retry.Text, page.HTML, retry.Title, p.minText)
			if rq.Score > q.Score {
				res, q = retry, rq
			}
		}
	}

	res.Text = extract.Cleanup(res.Text)

	rec.Title = res.Title
	rec.Text = res.Text
	rec.ExtractionMode = res.Mode
	rec.TextHash = extract.TextHash(res.Text)
	rec.QualityScore = q.Score
	rec.QualityPassed = q.Passed
	rec.QualityReasons = q.Reasons

	if q.Passed {
		meta := extract.Meta(page.HTML, page.URL)
		rec.Markdown = meta.Markdown
		if meta.Sections != nil {
			rec.Sections = meta.Sections
		}
		if meta.Breadcrumbs != nil {
			rec.Breadcrumbs = meta.Breadcrumbs
		}
		rec.LastModified = meta.LastModified
	}
}

func retryMode(mode string) string {
	switch mode {
	case model.ExtractPrimary:
		return model.ExtractSecondary
	case model.ExtractSecondary:
		return model.ExtractFallback
	}
	return ""
}

func (p *Pipeline) emit(rec model.PageRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, err := p.w.Write(data); err != nil {
		return err
	}
	if err := p.w.WriteByte('\n'); err != nil {
		return err
	}
	// flush per record so heartbeats and partial finalization see progress
	if err := p.w.Flush(); err != nil {
		return err
	}

	p.emitted++
	if rec.CountsTowardBudget {
		p.counted++
	}
	if rec.Error != nil {
		p.errors++
	}
	return nil
}

// BudgetExhausted reports whether the job's page budget is spent.
func (p *Pipeline) BudgetExhausted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counted >= p.job.MaxPages
}

// PagesCounted returns how many pages count toward the budget so far.
func (p *Pipeline) PagesCounted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.counted
}

// PagesEmitted returns how many records have been written in total.
func (p *Pipeline) PagesEmitted() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.emitted
}

// ErrorCount returns how many records carried a fetch error.
func (p *Pipeline) ErrorCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errors
}

// Close flushes and closes the raw JSONL file.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.w.Flush(); err != nil {
		p.file.Close()
		return err
	}
	return p.file.Close()
}

func isHTML(contentType string) bool {
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml")
}
