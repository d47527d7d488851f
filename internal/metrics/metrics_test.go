package metrics

import (
	"strings"
	"testing"
)

func TestRecordRequestAndExport(t *testing.T) {
	// Record a single request and ensure it appears in the export.
	RecordRequest("GET", "/v1/jobs/:id", 200, 42)

	out := Export()
	if !strings.Contains(out, "skrapp_http_requests_total{method=\"GET\",path=\"/v1/jobs/:id\",status=\"200\"}") {
		t.Fatalf("expected HTTP request metric for GET /v1/jobs/:id in export, got:\n%s", out)
	}
	if !strings.Contains(out, "skrapp_http_request_duration_ms_sum") || !strings.Contains(out, "skrapp_http_request_duration_ms_count") {
		t.Fatalf("expected latency metrics headers in export, got:\n%s", out)
	}
}

func TestRecordJobMetrics(t *testing.T) {
	RecordJobState("queued")
	RecordJobState("done")
	RecordPages(5, 4)
	RecordFallback()
	RecordRestart()
	RecordExpired(2)

	out := Export()
	if !strings.Contains(out, "skrapp_jobs_total{state=\"done\"}") {
		t.Fatalf("expected jobs_total for done state, got:\n%s", out)
	}
	if !strings.Contains(out, "skrapp_jobs_total{state=\"queued\"}") {
		t.Fatalf("expected jobs_total for queued state, got:\n%s", out)
	}
	if !strings.Contains(out, "skrapp_pages_fetched_total") || !strings.Contains(out, "skrapp_pages_exported_total") {
		t.Fatalf("expected page counters in export, got:\n%s", out)
	}
	if !strings.Contains(out, "skrapp_fallbacks_total 1") {
		t.Fatalf("expected fallback counter in export, got:\n%s", out)
	}
	if !strings.Contains(out, "skrapp_jobs_expired_total 2") {
		t.Fatalf("expected expired counter in export, got:\n%s", out)
	}
}

func TestExportStable(t *testing.T) {
	RecordRequest("POST", "/v1/jobs", 201, 10)
	if Export() != Export() {
		t.Fatal("export output not stable between calls")
	}
}
