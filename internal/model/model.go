package model

import (
	"database/sql"
	"time"

	"github.com/sqlc-dev/pqtype"
)

// Job states.
const (
	StateQueued     = "queued"
	StateRunning    = "running"
	StateFinalizing = "finalizing"
	StateDone       = "done"
	StateFailed     = "failed"
	StateExpired    = "expired"
	StateCancelled  = "cancelled"
)

// Error reasons stored in last_error.reason.
const (
	ReasonOrphaned           = "orphaned"
	ReasonStalled            = "stalled"
	ReasonHardStalled        = "hard_stalled"
	ReasonRateLimited        = "rate_limited"
	ReasonBlocked            = "blocked"
	ReasonCaptchaDetected    = "captcha_detected"
	ReasonLoginRequired      = "login_required"
	ReasonRobotsDenied       = "robots_denied"
	ReasonDNSFailure         = "dns_failure"
	ReasonConnectionError    = "connection_error"
	ReasonTimeout            = "timeout"
	ReasonDiskFull           = "disk_full"
	ReasonUnknown            = "unknown"
	ReasonFinalizationFailed = "finalization_failed"
)

// Site statuses produced by blocking analysis.
const (
	SiteNormal        = "normal"
	SiteThrottled     = "throttled"
	SiteBlocked       = "blocked"
	SiteRobotsDenied  = "robots_denied"
	SiteLoginRequired = "login_required"
	SiteUnknown       = "unknown"
)

// Blocking signal names recorded in evidence.
const (
	SignalExcessive429     = "excessive_429"
	SignalExcessive403     = "excessive_403"
	SignalCaptcha          = "captcha_detected"
	SignalLoginRedirect    = "login_redirect"
	SignalDuplicateContent = "duplicate_content_high"
)

// Crawler strategies persisted on the job.
const (
	StrategyStatic       = "static"
	StrategyJSRequested  = "js_user_requested"
	StrategyJSPreemptive = "js_preemptive"
	StrategyStaticThenJS = "static_fallback_js"
)

// Text extraction modes.
const (
	ExtractPrimary   = "primary"
	ExtractSecondary = "secondary"
	ExtractFallback  = "fallback"
)

// Artifact kinds.
const (
	ArtifactPagesRawJSONL = "raw_jsonl"
	ArtifactPagesJSONL    = "final_jsonl"
	ArtifactSummaryJSON   = "summary_json"
	ArtifactRunnerLog     = "runner_log"
	ArtifactCrawlerLog    = "crawler_log"
)

// Job event levels and types.
const (
	EventInfo  = "info"
	EventWarn  = "warn"
	EventError = "error"

	EventStateChange       = "state_change"
	EventRestart           = "restart"
	EventBlockedDetected   = "blocked_detected"
	EventFallbackTriggered = "fallback_triggered"
	EventJSDomainDetected  = "js_domain_detected"
	EventFinalize          = "finalize"
	EventErrorType         = "error"
)

// MaxRestarts bounds how many times a stuck job may be re-queued.
const MaxRestarts = 2

// Job is the primary aggregate persisted in the jobs table.
type Job struct {
	ID                 string
	TokenHash          string
	RequesterIPHash    string
	StartURL           string
	AllowedHost        string
	MaxPages           int
	TimeoutSeconds     int
	IgnorePrefixes     []string
	UseJS              bool
	State              string
	PagesFetched       int
	PagesExported      int
	ErrorsCount        int
	RestartCount       int
	FallbackRetryCount int
	CrawlerStrategy    sql.NullString
	SiteStatus         sql.NullString
	LastError          pqtype.NullRawMessage
	BlockEvidence      pqtype.NullRawMessage
	IPReleased         bool
	RunnerHeartbeatAt  sql.NullTime
	LastProgressAt     sql.NullTime
	CreatedAt          time.Time
	StartedAt          sql.NullTime
	FinishedAt         sql.NullTime
	ExpiresAt          time.Time
}

// Terminal reports whether a state admits no further worker mutation.
func Terminal(state string) bool {
	switch state {
	case StateDone, StateFailed, StateExpired, StateCancelled:
		return true
	}
	return false
}

// legalTransitions is the authoritative transition table. The expiry sweep
// additionally moves any non-terminal state to expired.
var legalTransitions = map[string][]string{
	StateQueued:     {StateRunning, StateExpired},
	StateRunning:    {StateFinalizing, StateQueued, StateFailed, StateCancelled, StateExpired},
	StateFinalizing: {StateDone, StateFailed, StateExpired},
	StateCancelled:  {StateDone},
}

// CanTransition reports whether moving from one state to another is legal.
func CanTransition(from, to string) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// LastError is the structured error stored on failed jobs.
type LastError struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
}

// Section is one entry of a page's heading outline.
type Section struct {
	Level  int    `json:"level"`
	Title  string `json:"title"`
	Anchor string `json:"anchor"`
}

// Breadcrumb is one entry of a page's navigation path.
type Breadcrumb struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// PageRecord is one line of pages.raw.jsonl and pages.jsonl.
type PageRecord struct {
	JobID              string       `json:"job_id"`
	URL                string       `json:"url"`
	CanonicalURL       string       `json:"canonical_url"`
	FetchedAt          string       `json:"fetched_at"`
	StatusCode         int          `json:"status_code"`
	ContentType        string       `json:"content_type"`
	Title              string       `json:"title"`
	Text               string       `json:"text"`
	Markdown           string       `json:"markdown"`
	TextHash           string       `json:"text_hash"`
	ExtractionMode     string       `json:"extraction_mode"`
	Depth              int          `json:"depth"`
	OutlinksCount      int          `json:"outlinks_count"`
	Sections           []Section    `json:"sections"`
	Breadcrumbs        []Breadcrumb `json:"breadcrumbs"`
	LastModified       *string      `json:"last_modified"`
	QualityScore       float64      `json:"quality_score"`
	QualityPassed      bool         `json:"quality_passed"`
	QualityReasons     []string     `json:"quality_reasons"`
	DocumentID         string       `json:"document_id,omitempty"`
	IsDuplicate        bool         `json:"is_duplicate"`
	CountsTowardBudget bool         `json:"counts_toward_budget"`
	Error              *string      `json:"error"`
}

// BlockingEvidence is the per-job evidence file written by the signal tracker.
type BlockingEvidence struct {
	TotalResponses int            `json:"total_responses"`
	StatusCodes    map[string]int `json:"status_codes"`
	CaptchaHits    int            `json:"captcha_hits"`
	WAFHits        int            `json:"waf_hits"`
	LoginRedirects int            `json:"login_redirects"`
	DuplicateRatio float64        `json:"duplicate_ratio"`
	SampleURLs     []string       `json:"sample_urls"`
	SignatureHits  []string       `json:"signature_hits"`
}

// Artifact is a registered output file of a finished job.
type Artifact struct {
	ID        int64
	JobID     string
	Kind      string
	Path      string
	ByteSize  int64
	SHA256    sql.NullString
	CreatedAt time.Time
}

// JobEvent is one row of the append-only per-job audit trail.
type JobEvent struct {
	ID      int64
	JobID   string
	At      time.Time
	Level   string
	Type    string
	Payload pqtype.NullRawMessage
}
