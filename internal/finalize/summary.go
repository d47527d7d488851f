package finalize

import (
	"encoding/json"
	"strconv"
	"time"

	"skrapp/internal/model"
)

// Summary is the job-level rollup written to summary.json.
type Summary struct {
	JobID                      string          `json:"job_id"`
	StartURL                   string          `json:"start_url"`
	AllowedHost                string          `json:"allowed_host"`
	CompletedAt                string          `json:"completed_at"`
	DurationSeconds            float64         `json:"duration_seconds"`
	PagesFetched               int             `json:"pages_fetched"`
	PagesExported              int             `json:"pages_exported"`
	DuplicatesRemoved          int             `json:"duplicates_removed"`
	StatusCodeDistribution     map[string]int  `json:"status_code_distribution"`
	ExtractionModeDistribution map[string]int  `json:"extraction_mode_distribution"`
	ExtractionSuccessRate      float64         `json:"extraction_success_rate"`
	AvgTextLength              float64         `json:"avg_text_length"`
	CrawlerStrategy            string          `json:"crawler_strategy"`
	FallbackOccurred           bool            `json:"fallback_occurred"`
	SiteStatus                 string          `json:"site_status"`
	BlockEvidence              json.RawMessage `json:"block_evidence"`
	RestartCount               int             `json:"restart_count"`
	LastErrors                 []string        `json:"last_errors"`
}

// BuildSummary aggregates raw and deduplicated records into the summary.
func BuildSummary(job *model.Job, raw, final []model.PageRecord, exported, duplicatesRemoved int) Summary {
	s := Summary{
		JobID:                      job.ID,
		StartURL:                   job.StartURL,
		AllowedHost:                job.AllowedHost,
		CompletedAt:                time.Now().UTC().Format(time.RFC3339),
		PagesFetched:               len(raw),
		PagesExported:              exported,
		DuplicatesRemoved:          duplicatesRemoved,
		StatusCodeDistribution:     map[string]int{},
		ExtractionModeDistribution: map[string]int{},
		RestartCount:               job.RestartCount,
		FallbackOccurred:           job.FallbackRetryCount > 0,
		LastErrors:                 []string{},
	}

	if job.StartedAt.Valid {
		s.DurationSeconds = time.Since(job.StartedAt.Time).Seconds()
	}
	if job.CrawlerStrategy.Valid {
		s.CrawlerStrategy = job.CrawlerStrategy.String
	}
	if job.SiteStatus.Valid {
		s.SiteStatus = job.SiteStatus.String
	}
	if job.BlockEvidence.Valid {
		s.BlockEvidence = json.RawMessage(job.BlockEvidence.RawMessage)
	}

	var errs []string
	passed := 0
	attempted := 0
	for _, rec := range raw {
		if rec.StatusCode != 0 {
			s.StatusCodeDistribution[statusKey(rec.StatusCode)]++
		}
		if rec.StatusCode == 200 && rec.Error == nil {
			attempted++
			s.ExtractionModeDistribution[rec.ExtractionMode]++
			if rec.QualityPassed {
				passed++
			}
		}
		if rec.Error != nil {
			errs = append(errs, rec.URL+": "+*rec.Error)
		}
	}

	if attempted > 0 {
		s.ExtractionSuccessRate = float64(passed) / float64(attempted)
	}

	var textTotal int
	exportedCount := 0
	for _, rec := range final {
		if rec.QualityPassed {
			textTotal += len(rec.Text)
			exportedCount++
		}
	}
	if exportedCount > 0 {
		s.AvgTextLength = float64(textTotal) / float64(exportedCount)
	}

	if len(errs) > 10 {
		errs = errs[len(errs)-10:]
	}
	if errs != nil {
		s.LastErrors = errs
	}

	return s
}

func statusKey(code int) string {
	return strconv.Itoa(code)
}
