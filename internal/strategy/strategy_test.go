package strategy

import (
	"testing"

	"skrapp/internal/model"
)

func TestSelectUserRequestedJS(t *testing.T) {
	job := &model.Job{AllowedHost: "example.com", UseJS: true}
	sel := Select(job, nil)
	if sel.Strategy != model.StrategyJSRequested || !sel.UseJS {
		t.Fatalf("selection = %+v", sel)
	}
}

func TestSelectPreemptiveJS(t *testing.T) {
	cases := []struct {
		host string
		want bool
	}{
		{"docs.vercel.app", true},
		{"vercel.app", true},
		{"acme.zendesk.com", true},
		{"help-center.talenta.co", true},
		{"talenta.co", false},
		{"example.com", false},
		{"notvercel.app", false},
	}

	for _, tc := range cases {
		job := &model.Job{AllowedHost: tc.host}
		sel := Select(job, nil)
		if sel.UseJS != tc.want {
			t.Fatalf("Select(%q).UseJS = %v, want %v", tc.host, sel.UseJS, tc.want)
		}
		if tc.want && sel.Strategy != model.StrategyJSPreemptive {
			t.Fatalf("Select(%q).Strategy = %q", tc.host, sel.Strategy)
		}
	}
}

func TestSelectExtraPatterns(t *testing.T) {
	job := &model.Job{AllowedHost: "docs.internal-docs.dev"}
	sel := Select(job, []string{"*.internal-docs.dev"})
	if !sel.UseJS || sel.Strategy != model.StrategyJSPreemptive {
		t.Fatalf("selection = %+v", sel)
	}
}

func TestSelectDefaultStatic(t *testing.T) {
	job := &model.Job{AllowedHost: "docs.example.com"}
	sel := Select(job, nil)
	if sel.Strategy != model.StrategyStatic || sel.UseJS {
		t.Fatalf("selection = %+v", sel)
	}
}
