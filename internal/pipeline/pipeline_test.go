package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"skrapp/internal/blocking"
	"skrapp/internal/model"
)

// fakeIdentifier assigns document ids in memory keyed by content hash.
type fakeIdentifier struct {
	byHash map[string]string
	next   int
}

func newFakeIdentifier() *fakeIdentifier {
	return &fakeIdentifier{byHash: make(map[string]string)}
}

func (f *fakeIdentifier) Identify(_ context.Context, _, contentHash, _ string) (string, bool, error) {
	if id, ok := f.byHash[contentHash]; ok {
		return id, true, nil
	}
	f.next++
	id := fmt.Sprintf("doc_%04d", f.next)
	f.byHash[contentHash] = id
	return id, false, nil
}

func testPipeline(t *testing.T, maxPages int) (*Pipeline, string) {
	t.Helper()
	job := &model.Job{ID: "job_test", MaxPages: maxPages}
	rawPath := filepath.Join(t.TempDir(), "pages.raw.jsonl")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p, err := New(job, 200, newFakeIdentifier(), blocking.NewTracker(), rawPath, logger)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p, rawPath
}

func readRecords(t *testing.T, path string) []model.PageRecord {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read raw file: %v", err)
	}
	var out []model.PageRecord
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec model.PageRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			t.Fatalf("unmarshal %q: %v", line, err)
		}
		out = append(out, rec)
	}
	return out
}

func docHTML(body string) string {
	return "<html><head><title>Guide Page</title></head><body><main>" + body + "</main></body></html>"
}

func TestProcessGoodPage(t *testing.T) {
	p, rawPath := testPipeline(t, 10)
	defer p.Close()

	body := strings.Repeat("The runner leases one queued job per polling cycle. ", 10)
	page := RawPage{
		URL:          "https://example.com/docs/a",
		CanonicalURL: "https://example.com/docs/a",
		StatusCode:   200,
		ContentType:  "text/html; charset=utf-8",
		HTML:         docHTML(body),
		Depth:        1,
	}
	if err := p.Process(context.Background(), page); err != nil {
		t.Fatalf("Process: %v", err)
	}

	recs := readRecords(t, rawPath)
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if !rec.QualityPassed {
		t.Fatalf("page should pass quality: %+v", rec)
	}
	if !rec.CountsTowardBudget || rec.IsDuplicate {
		t.Fatalf("page should count toward budget: %+v", rec)
	}
	if rec.DocumentID == "" {
		t.Fatal("document id not assigned")
	}
	if !strings.HasPrefix(rec.TextHash, "sha256:") {
		t.Fatalf("text hash = %q", rec.TextHash)
	}
	if rec.Title != "Guide Page" {
		t.Fatalf("title = %q", rec.Title)
	}
	if p.PagesCounted() != 1 {
		t.Fatalf("PagesCounted = %d, want 1", p.PagesCounted())
	}
}

func TestProcessDuplicateDoesNotCount(t *testing.T) {
	p, rawPath := testPipeline(t, 10)
	defer p.Close()

	body := strings.Repeat("Identical content served from two different paths. ", 10)
	for _, u := range []string{"https://example.com/a", "https://example.com/b"} {
		page := RawPage{URL: u, CanonicalURL: u, StatusCode: 200, ContentType: "text/html", HTML: docHTML(body)}
		if err := p.Process(context.Background(), page); err != nil {
			t.Fatalf("Process(%s): %v", u, err)
		}
	}

	recs := readRecords(t, rawPath)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].IsDuplicate || !recs[1].IsDuplicate {
		t.Fatalf("duplicate flags = %v, %v", recs[0].IsDuplicate, recs[1].IsDuplicate)
	}
	if recs[0].DocumentID != recs[1].DocumentID {
		t.Fatalf("document ids differ: %q vs %q", recs[0].DocumentID, recs[1].DocumentID)
	}
	if p.PagesCounted() != 1 {
		t.Fatalf("PagesCounted = %d, want 1", p.PagesCounted())
	}
	// the duplicate is still a fetched record
	if p.PagesEmitted() != 2 {
		t.Fatalf("PagesEmitted = %d, want 2", p.PagesEmitted())
	}
}

func TestProcessNon200AndErrors(t *testing.T) {
	p, rawPath := testPipeline(t, 10)
	defer p.Close()

	notFound := RawPage{URL: "https://example.com/missing", CanonicalURL: "https://example.com/missing", StatusCode: 404, ContentType: "text/html", HTML: "<html>not found</html>"}
	if err := p.Process(context.Background(), notFound); err != nil {
		t.Fatalf("Process 404: %v", err)
	}

	failed := RawPage{URL: "https://example.com/broken", CanonicalURL: "https://example.com/broken", FetchError: "connection refused"}
	if err := p.Process(context.Background(), failed); err != nil {
		t.Fatalf("Process error page: %v", err)
	}

	recs := readRecords(t, rawPath)
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].QualityPassed || recs[0].CountsTowardBudget {
		t.Fatalf("404 must not pass or count: %+v", recs[0])
	}
	if recs[1].Error == nil || *recs[1].Error != "connection refused" {
		t.Fatalf("error record = %+v", recs[1])
	}
	if p.PagesCounted() != 0 {
		t.Fatalf("PagesCounted = %d, want 0", p.PagesCounted())
	}
	if p.ErrorCount() != 1 {
		t.Fatalf("ErrorCount = %d, want 1", p.ErrorCount())
	}
	if p.PagesEmitted() != 2 {
		t.Fatalf("PagesEmitted = %d, want 2", p.PagesEmitted())
	}
}

func TestBudgetExhausted(t *testing.T) {
	p, _ := testPipeline(t, 2)
	defer p.Close()

	for i := 0; i < 2; i++ {
		body := strings.Repeat(fmt.Sprintf("Unique page %d content about the deployment workflow. ", i), 10)
		page := RawPage{
			URL:          fmt.Sprintf("https://example.com/p/%d", i),
			CanonicalURL: fmt.Sprintf("https://example.com/p/%d", i),
			StatusCode:   200,
			ContentType:  "text/html",
			HTML:         docHTML(body),
		}
		if err := p.Process(context.Background(), page); err != nil {
			t.Fatalf("Process: %v", err)
		}
	}

	if !p.BudgetExhausted() {
		t.Fatal("budget should be exhausted after two counted pages")
	}
}
