// Package strategy picks the initial fetch approach for a job based on the
// user's request and a table of hosting platforms known to require
// JavaScript rendering.
package strategy

import (
	"strings"

	"skrapp/internal/model"
)

// jsHeavyPatterns lists hosted documentation platforms that serve empty
// shells to plain HTTP clients. A leading *. matches both the base domain
// and any subdomain.
var jsHeavyPatterns = []string{
	"*.zendesk.com",
	"*.freshdesk.com",
	"*.intercom.help",
	"*.helpscoutdocs.com",
	"*.helpjuice.com",
	"*.document360.io",
	"*.gitbook.io",
	"*.readme.io",
	"*.notion.site",
	"*.slite.com",
	"*.archbee.io",
	"*.mintlify.app",
	"*.docusaurus.io",
	"*.vercel.app",
	"*.netlify.app",
	"*.pages.dev",
	"help-center.talenta.co",
}

// Selection names the chosen strategy and why it was picked.
type Selection struct {
	Strategy string
	UseJS    bool
	Reason   string
}

// Select decides the initial strategy for a job. Extra patterns extend the
// built-in platform table via configuration.
func Select(job *model.Job, extraPatterns []string) Selection {
	if job.UseJS {
		return Selection{Strategy: model.StrategyJSRequested, UseJS: true, Reason: "js_requested"}
	}
	if pattern := matchHost(job.AllowedHost, extraPatterns); pattern != "" {
		return Selection{Strategy: model.StrategyJSPreemptive, UseJS: true, Reason: pattern}
	}
	return Selection{Strategy: model.StrategyStatic, UseJS: false, Reason: "default_static"}
}

func matchHost(host string, extra []string) string {
	host = strings.ToLower(host)
	for _, p := range jsHeavyPatterns {
		if matchesPattern(host, p) {
			return p
		}
	}
	for _, p := range extra {
		if matchesPattern(host, strings.ToLower(p)) {
			return p
		}
	}
	return ""
}

// matchesPattern handles the *.base form: the base domain itself and any
// subdomain both match. Patterns without a wildcard require equality.
func matchesPattern(host, pattern string) bool {
	if base, ok := strings.CutPrefix(pattern, "*."); ok {
		return host == base || strings.HasSuffix(host, "."+base)
	}
	return host == pattern
}
