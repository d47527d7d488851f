package finalize

import (
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"skrapp/internal/model"
)

func rec(url, text string, passed bool) model.PageRecord {
	return model.PageRecord{
		URL:           url,
		CanonicalURL:  url,
		StatusCode:    200,
		Text:          text,
		Title:         "Title",
		QualityPassed: passed,
		FetchedAt:     "2024-01-01T00:00:00Z",
	}
}

func TestDedupLastWinsFirstSeenOrder(t *testing.T) {
	a1 := rec("https://example.com/a", "first fetch", true)
	b := rec("https://example.com/b", "other page", true)
	a2 := rec("https://example.com/a", "second fetch", true)

	out := Dedup([]model.PageRecord{a1, b, a2})
	if len(out) != 2 {
		t.Fatalf("deduped length = %d, want 2", len(out))
	}
	if out[0].CanonicalURL != "https://example.com/a" || out[1].CanonicalURL != "https://example.com/b" {
		t.Fatalf("order not preserved: %q, %q", out[0].CanonicalURL, out[1].CanonicalURL)
	}
	if out[0].Text != "second fetch" {
		t.Fatalf("last record should win, got %q", out[0].Text)
	}
}

func TestSlug(t *testing.T) {
	cases := []struct {
		url  string
		want string
	}{
		{"https://example.com/docs/getting-started", "docs_getting_started"},
		{"https://example.com/", ""},
		{"https://example.com/API/v2/Users", "api_v2_users"},
		{"https://example.com/a//b///c", "a_b_c"},
	}
	for _, tc := range cases {
		if got := Slug(tc.url); got != tc.want {
			t.Fatalf("Slug(%q) = %q, want %q", tc.url, got, tc.want)
		}
	}

	long := "https://example.com/" + strings.Repeat("segment/", 30)
	if got := Slug(long); len(got) > 80 {
		t.Fatalf("slug length = %d, want <= 80", len(got))
	}
}

func TestBuildSummary(t *testing.T) {
	errMsg := "connection refused"
	raw := []model.PageRecord{
		{URL: "https://example.com/a", CanonicalURL: "https://example.com/a", StatusCode: 200, ExtractionMode: model.ExtractPrimary, Text: strings.Repeat("x", 400), QualityPassed: true, CountsTowardBudget: true},
		{URL: "https://example.com/b", CanonicalURL: "https://example.com/b", StatusCode: 200, ExtractionMode: model.ExtractFallback, Text: "short", QualityPassed: false},
		{URL: "https://example.com/c", CanonicalURL: "https://example.com/c", StatusCode: 404},
		{URL: "https://example.com/d", CanonicalURL: "https://example.com/d", Error: &errMsg},
	}
	final := Dedup(raw)

	job := &model.Job{
		ID:              "job_x",
		StartURL:        "https://example.com/docs",
		AllowedHost:     "example.com",
		RestartCount:    1,
		CrawlerStrategy: sql.NullString{String: model.StrategyStatic, Valid: true},
		SiteStatus:      sql.NullString{String: model.SiteNormal, Valid: true},
		StartedAt:       sql.NullTime{Time: time.Now().Add(-time.Minute), Valid: true},
	}

	s := BuildSummary(job, raw, final, 1, len(raw)-len(final))

	if s.PagesFetched != 4 {
		t.Fatalf("pages_fetched = %d, want 4 raw records", s.PagesFetched)
	}
	if s.StatusCodeDistribution["200"] != 2 || s.StatusCodeDistribution["404"] != 1 {
		t.Fatalf("status distribution = %v", s.StatusCodeDistribution)
	}
	if s.ExtractionSuccessRate != 0.5 {
		t.Fatalf("extraction_success_rate = %v, want 0.5", s.ExtractionSuccessRate)
	}
	if s.AvgTextLength != 400 {
		t.Fatalf("avg_text_length = %v, want 400", s.AvgTextLength)
	}
	if len(s.LastErrors) != 1 || !strings.Contains(s.LastErrors[0], "connection refused") {
		t.Fatalf("last_errors = %v", s.LastErrors)
	}
	if s.DurationSeconds <= 0 {
		t.Fatalf("duration_seconds = %v", s.DurationSeconds)
	}
	if s.CrawlerStrategy != model.StrategyStatic || s.SiteStatus != model.SiteNormal {
		t.Fatalf("strategy/status = %q/%q", s.CrawlerStrategy, s.SiteStatus)
	}
}

func TestSummaryExportedNeverExceedsFetched(t *testing.T) {
	// same content under two distinct canonical URLs: both survive URL
	// dedup and export, so the fetched count must cover both
	a := rec("https://example.com/a", "identical body", true)
	b := rec("https://example.com/b", "identical body", true)
	b.IsDuplicate = true
	a.CountsTowardBudget = true
	raw := []model.PageRecord{a, b}
	final := Dedup(raw)

	exported := 0
	for _, r := range final {
		if r.QualityPassed {
			exported++
		}
	}

	s := BuildSummary(&model.Job{ID: "job_x"}, raw, final, exported, len(raw)-len(final))
	if s.PagesExported != 2 {
		t.Fatalf("pages_exported = %d, want 2", s.PagesExported)
	}
	if s.PagesExported > s.PagesFetched {
		t.Fatalf("pages_exported %d exceeds pages_fetched %d", s.PagesExported, s.PagesFetched)
	}
}

func TestWriteKB(t *testing.T) {
	dir := t.TempDir()

	page := rec("https://example.com/docs/install", strings.Repeat("Install steps. ", 30), true)
	page.Markdown = "Run the installer from the downloads page."
	page.Breadcrumbs = []model.Breadcrumb{{Title: "Home", URL: "https://example.com/"}, {Title: "Docs", URL: "https://example.com/docs"}}
	page.Sections = []model.Section{{Level: 2, Title: "Install", Anchor: "https://example.com/docs/install#install"}}

	if err := WriteKB(dir, "job_kb", []model.PageRecord{page}); err != nil {
		t.Fatalf("WriteKB: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "kb", "manifest.json"))
	if err != nil {
		t.Fatalf("read manifest: %v", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}

	if manifest.FormatVersion != "1.0" || manifest.TotalPages != 1 {
		t.Fatalf("manifest = %+v", manifest)
	}
	if manifest.Pages[0].ID != "page_0001" {
		t.Fatalf("page id = %q", manifest.Pages[0].ID)
	}
	if manifest.Pages[0].Filename != filepath.Join("pages", "docs_install.md") {
		t.Fatalf("filename = %q", manifest.Pages[0].Filename)
	}

	md, err := os.ReadFile(filepath.Join(dir, "kb", manifest.Pages[0].Filename))
	if err != nil {
		t.Fatalf("read page: %v", err)
	}
	content := string(md)
	if !strings.HasPrefix(content, "---\n") {
		t.Fatal("page missing frontmatter")
	}
	if !strings.Contains(content, "source_url: https://example.com/docs/install") {
		t.Fatalf("frontmatter missing source_url:\n%s", content)
	}
	if !strings.Contains(content, "# Title") {
		t.Fatal("title heading not injected for body without leading heading")
	}
	if !strings.Contains(content, "*Source: [https://example.com/docs/install](https://example.com/docs/install)*") {
		t.Fatal("source footer missing")
	}
}

func TestWriteKBSlugCollision(t *testing.T) {
	dir := t.TempDir()
	a := rec("https://example.com/docs", "content a", true)
	b := rec("https://example.com/docs/", "content b", true)

	if err := WriteKB(dir, "job_kb", []model.PageRecord{a, b}); err != nil {
		t.Fatalf("WriteKB: %v", err)
	}

	var manifest Manifest
	data, _ := os.ReadFile(filepath.Join(dir, "kb", "manifest.json"))
	if err := json.Unmarshal(data, &manifest); err != nil {
		t.Fatalf("unmarshal manifest: %v", err)
	}
	if manifest.Pages[0].Filename == manifest.Pages[1].Filename {
		t.Fatalf("colliding filenames: %q", manifest.Pages[0].Filename)
	}
}
