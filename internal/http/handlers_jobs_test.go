package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"skrapp/internal/config"
	"skrapp/internal/store"
)

func testApp() *fiber.App {
	app := fiber.New()
	cfg := &config.Config{}
	st := &store.Store{}

	app.Use(func(c *fiber.Ctx) error {
		c.Locals("config", cfg)
		c.Locals("store", st)
		return c.Next()
	})
	registerV1Routes(app.Group("/v1"))
	return app
}

func TestCreateJob_InvalidBody(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestCreateJob_InvalidURL(t *testing.T) {
	app := testApp()

	cases := []string{
		`{"start_url": ""}`,
		`{"start_url": "example.com/docs"}`,
		`{"start_url": "ftp://example.com"}`,
		`{"start_url": "https://localhost/admin"}`,
		`{"start_url": "http://192.168.0.10/"}`,
	}
	for _, body := range cases {
		req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("body %s: expected 400, got %d", body, resp.StatusCode)
		}

		var errResp ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
			t.Fatalf("decode error body: %v", err)
		}
		if errResp.Error == "" {
			t.Fatalf("body %s: empty error field", body)
		}
	}
}

func TestCreateJob_StartURLFieldBinds(t *testing.T) {
	app := testApp()

	// a scheme error, not "URL is required", proves the start_url field
	// reached the validator
	req := httptest.NewRequest(http.MethodPost, "/v1/jobs", strings.NewReader(`{"start_url": "ftp://example.com"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	var errResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errResp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if !strings.Contains(errResp.Message, "http://") {
		t.Fatalf("message = %q, want scheme complaint", errResp.Message)
	}
}

func TestJobStatus_MissingToken(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest(http.MethodGet, "/v1/jobs/job_abc123", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestStatusResponse_BlockEvidenceSerialized(t *testing.T) {
	resp := StatusResponse{
		JobID:         "job_abc123",
		State:         "failed",
		BlockEvidence: map[string]any{"http_403_count": 12},
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"block_evidence"`) {
		t.Fatalf("status body missing block_evidence: %s", data)
	}

	// absent evidence must not emit the key at all
	data, _ = json.Marshal(StatusResponse{JobID: "job_abc123"})
	if strings.Contains(string(data), "block_evidence") {
		t.Fatalf("empty evidence should be omitted: %s", data)
	}
}

func TestCancelJob_MissingToken(t *testing.T) {
	app := testApp()

	req := httptest.NewRequest(http.MethodPost, "/v1/jobs/job_abc123/cancel", nil)
	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestDownload_MissingToken(t *testing.T) {
	app := testApp()

	// both artifact routes must exist and require a token
	paths := []string{
		"/v1/jobs/job_abc123/download/pages.jsonl",
		"/v1/jobs/job_abc123/download/summary.json",
	}
	for _, path := range paths {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		resp, err := app.Test(req, -1)
		if err != nil {
			t.Fatalf("app.Test error: %v", err)
		}
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, resp.StatusCode)
		}
	}
}
