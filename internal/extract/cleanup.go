package extract

import (
	"regexp"
	"strings"
)

// noisy short lines that survive extraction: consent banners, share
// widgets, and navigation stubs.
var noiseLineRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)^(accept|decline|reject)( all)?( cookies)?$`),
	regexp.MustCompile(`(?i)^(we use cookies|this (site|website) uses cookies)`),
	regexp.MustCompile(`(?i)^(share|tweet|print|copy link)( this( page| article)?)?$`),
	regexp.MustCompile(`(?i)^(previous|next|back to top|skip to( main)? content|table of contents)$`),
	regexp.MustCompile(`(?i)^(loading|please wait)\.{0,3}$`),
	regexp.MustCompile(`(?i)^(was this (page|article) helpful\??|yes|no)$`),
	regexp.MustCompile(`(?i)^(edit this page|on this page)$`),
	regexp.MustCompile(`(?i)^©`),
}

// Cleanup removes residual boilerplate lines and collapses consecutive
// duplicate lines in extracted text.
func Cleanup(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	prev := ""

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if isNoiseLine(line) {
			continue
		}
		if line == prev {
			continue
		}
		out = append(out, line)
		prev = line
	}

	return strings.Join(out, "\n")
}

func isNoiseLine(line string) bool {
	for _, re := range noiseLineRes {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
