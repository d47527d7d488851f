// Package fetcher implements the crawl engines: a static HTTP fetcher and
// a rod-driven browser fetcher for JavaScript-rendered sites.
package fetcher

import (
	"context"

	"skrapp/internal/model"
	"skrapp/internal/pipeline"
)

// Result summarizes one fetcher run over a job.
type Result struct {
	PagesFetched int
	ErrorsCount  int
	Errors       []string
}

// Fetcher crawls a job's site and feeds every response to the pipeline.
// Run returns normally when the budget is spent, the frontier empties, or
// the context is cancelled; it returns an error only for setup failures
// that make the crawl impossible.
type Fetcher interface {
	Run(ctx context.Context, job *model.Job, p *pipeline.Pipeline) (*Result, error)
}
