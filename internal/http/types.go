package http

import "github.com/gofiber/fiber/v2"

// CreateJobRequest is the body of POST /v1/jobs. Numeric fields are
// pointers so absent and zero are distinguishable; out-of-range values
// clamp instead of erroring.
type CreateJobRequest struct {
	StartURL           string   `json:"start_url"`
	MaxPages           *int     `json:"max_pages,omitempty"`
	TimeoutSeconds     *int     `json:"timeout_seconds,omitempty"`
	UseJS              bool     `json:"use_js,omitempty"`
	IgnorePathPrefixes []string `json:"ignore_path_prefixes,omitempty"`
}

// CreateJobResponse returns the job handle. The token appears here exactly
// once and is never retrievable again.
type CreateJobResponse struct {
	JobID          string `json:"job_id"`
	Token          string `json:"token"`
	StatusURL      string `json:"status_url"`
	State          string `json:"state"`
	MaxPages       int    `json:"max_pages"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	UseJS          bool   `json:"use_js"`
}

// StatusResponse is the body of GET /v1/jobs/:id.
type StatusResponse struct {
	JobID           string   `json:"job_id"`
	State           string   `json:"state"`
	PagesFetched    int      `json:"pages_fetched"`
	PagesExported   int      `json:"pages_exported"`
	ErrorsCount     int      `json:"errors_count"`
	RestartCount    int      `json:"restart_count"`
	CrawlerStrategy string   `json:"crawler_strategy,omitempty"`
	SiteStatus      string   `json:"site_status,omitempty"`
	CreatedAt       string   `json:"created_at"`
	StartedAt       *string  `json:"started_at"`
	FinishedAt      *string  `json:"finished_at"`
	ExpiresAt       string   `json:"expires_at"`
	ElapsedSeconds  *float64 `json:"elapsed_seconds"`
	DownloadURL     string   `json:"download_url,omitempty"`
	LastError       any      `json:"last_error,omitempty"`
	BlockEvidence   any      `json:"block_evidence,omitempty"`
}

// PageListItem is one entry of the live pages listing.
type PageListItem struct {
	URL            string `json:"url"`
	Title          string `json:"title"`
	StatusCode     int    `json:"status_code"`
	Depth          int    `json:"depth"`
	ExtractionMode string `json:"extraction_mode"`
	TextLength     int    `json:"text_length"`
	OutlinksCount  int    `json:"outlinks_count"`
}

// PagesResponse is the body of GET /v1/jobs/:id/pages.
type PagesResponse struct {
	JobID      string         `json:"job_id"`
	State      string         `json:"state"`
	TotalPages int            `json:"total_pages"`
	Pages      []PageListItem `json:"pages"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// RateLimitResponse is the 429 body for the per-address concurrency cap.
type RateLimitResponse struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	CurrentJobs int    `json:"current_jobs"`
}

func respondError(c *fiber.Ctx, status int, err, message string) error {
	return c.Status(status).JSON(ErrorResponse{Error: err, Message: message})
}
