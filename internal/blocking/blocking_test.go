package blocking

import (
	"fmt"
	"testing"

	"skrapp/internal/model"
)

var testThresholds = Thresholds{Rate429: 0.20, Rate403: 0.30, DuplicateRatio: 0.50}

func TestTrackerCaptchaDetection(t *testing.T) {
	tr := NewTracker()
	tr.RecordResponse("https://example.com/a", 200, "<html>please complete the security check</html>", "")
	tr.RecordResponse("https://example.com/b", 200, "<html>normal page content</html>", "")

	ev := tr.Evidence()
	if ev.CaptchaHits != 1 {
		t.Fatalf("captcha_hits = %d, want 1", ev.CaptchaHits)
	}
	if ev.TotalResponses != 2 {
		t.Fatalf("total_responses = %d, want 2", ev.TotalResponses)
	}
	if len(ev.SampleURLs) != 1 || ev.SampleURLs[0] != "https://example.com/a" {
		t.Fatalf("sample_urls = %v", ev.SampleURLs)
	}
	if len(ev.SignatureHits) == 0 {
		t.Fatal("expected signature hits recorded")
	}
}

func TestTrackerLoginRedirect(t *testing.T) {
	tr := NewTracker()
	tr.RecordResponse("https://example.com/docs", 302, "", "https://example.com/login?next=/docs")
	tr.RecordResponse("https://example.com/x", 200, `<meta http-equiv="refresh" content="0; url=/signin">`, "")

	ev := tr.Evidence()
	if ev.LoginRedirects != 2 {
		t.Fatalf("login_redirects = %d, want 2", ev.LoginRedirects)
	}
}

func TestTrackerSampleURLsCapped(t *testing.T) {
	tr := NewTracker()
	for i := 0; i < 8; i++ {
		tr.RecordResponse(fmt.Sprintf("https://example.com/%d", i), 403, "access denied by firewall", "")
	}
	ev := tr.Evidence()
	if len(ev.SampleURLs) != 5 {
		t.Fatalf("sample_urls capped at 5, got %d", len(ev.SampleURLs))
	}
}

func TestDuplicateRatio(t *testing.T) {
	tr := NewTracker()
	tr.RecordTextHash("sha256:a")
	tr.RecordTextHash("sha256:a")
	tr.RecordTextHash("sha256:a")
	tr.RecordTextHash("sha256:b")

	ev := tr.Evidence()
	// 2 unique of 4 total = 0.5 duplicate ratio
	if ev.DuplicateRatio != 0.5 {
		t.Fatalf("duplicate_ratio = %v, want 0.5", ev.DuplicateRatio)
	}
}

func TestClassifyTableOrder(t *testing.T) {
	cases := []struct {
		name   string
		ev     model.BlockingEvidence
		want   string
		signal string
	}{
		{
			name: "captcha wins over everything",
			ev: model.BlockingEvidence{
				TotalResponses: 10,
				StatusCodes:    map[string]int{"429": 10},
				CaptchaHits:    1,
			},
			want:   model.SiteBlocked,
			signal: model.SignalCaptcha,
		},
		{
			name: "login redirect majority",
			ev: model.BlockingEvidence{
				TotalResponses: 10,
				StatusCodes:    map[string]int{"302": 6, "200": 4},
				LoginRedirects: 6,
			},
			want:   model.SiteLoginRequired,
			signal: model.SignalLoginRedirect,
		},
		{
			name: "throttled at 20 percent 429",
			ev: model.BlockingEvidence{
				TotalResponses: 10,
				StatusCodes:    map[string]int{"429": 2, "200": 8},
			},
			want:   model.SiteThrottled,
			signal: model.SignalExcessive429,
		},
		{
			name: "blocked at 30 percent 403",
			ev: model.BlockingEvidence{
				TotalResponses: 10,
				StatusCodes:    map[string]int{"403": 3, "200": 7},
			},
			want:   model.SiteBlocked,
			signal: model.SignalExcessive403,
		},
		{
			name: "blocked on duplicate content",
			ev: model.BlockingEvidence{
				TotalResponses: 10,
				StatusCodes:    map[string]int{"200": 10},
				DuplicateRatio: 0.6,
			},
			want:   model.SiteBlocked,
			signal: model.SignalDuplicateContent,
		},
		{
			name: "normal otherwise",
			ev: model.BlockingEvidence{
				TotalResponses: 10,
				StatusCodes:    map[string]int{"200": 9, "404": 1},
			},
			want: model.SiteNormal,
		},
		{
			name: "unknown with zero responses",
			ev:   model.BlockingEvidence{},
			want: model.SiteUnknown,
		},
	}

	for _, tc := range cases {
		a := Classify(tc.ev, testThresholds)
		if a.SiteStatus != tc.want {
			t.Fatalf("%s: site status = %q, want %q", tc.name, a.SiteStatus, tc.want)
		}
		if tc.signal != "" {
			if len(a.SignalsDetected) != 1 || a.SignalsDetected[0] != tc.signal {
				t.Fatalf("%s: signals = %v, want [%s]", tc.name, a.SignalsDetected, tc.signal)
			}
		}
	}
}

func TestClassifyDeterministic(t *testing.T) {
	ev := model.BlockingEvidence{
		TotalResponses: 20,
		StatusCodes:    map[string]int{"429": 5, "403": 7, "200": 8},
	}
	first := Classify(ev, testThresholds)
	for i := 0; i < 10; i++ {
		again := Classify(ev, testThresholds)
		if again.SiteStatus != first.SiteStatus {
			t.Fatalf("classification not deterministic: %q vs %q", again.SiteStatus, first.SiteStatus)
		}
	}
	// 429 rate (0.25) is checked before the 403 rate per the priority order.
	if first.SiteStatus != model.SiteThrottled {
		t.Fatalf("site status = %q, want throttled", first.SiteStatus)
	}
}

func TestShouldFallback(t *testing.T) {
	if !ShouldFallback(model.SiteBlocked) || !ShouldFallback(model.SiteThrottled) {
		t.Fatal("blocked and throttled must trigger fallback")
	}
	if ShouldFallback(model.SiteNormal) || ShouldFallback(model.SiteLoginRequired) {
		t.Fatal("normal and login_required must not trigger fallback")
	}
}
