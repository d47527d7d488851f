package extract

import (
	"regexp"
	"strings"
)

// Quality-score deduction reasons reported on page records.
const (
	ReasonTextTooShort    = "text_too_short"
	ReasonTextShort       = "text_short"
	ReasonHighBoilerplate = "high_boilerplate"
	ReasonSomeBoilerplate = "some_boilerplate"
	ReasonHighLinkDensity = "high_link_density"
	ReasonSomeLinkDensity = "some_link_density"
	ReasonRepeatedLines   = "repeated_lines"
	ReasonLowTextDensity  = "low_text_density"
	ReasonMissingTitle    = "missing_title"
)

var boilerplatePhrases = []string{
	"cookie",
	"subscribe",
	"sign up",
	"newsletter",
	"all rights reserved",
	"privacy policy",
	"terms of service",
	"click here",
	"read more",
	"share this",
	"follow us",
	"advertisement",
	"accept all",
	"manage preferences",
}

var anchorTagRe = regexp.MustCompile(`(?i)<a[\s>]`)

// estimated characters of link text per anchor tag, used to approximate
// link density without a second parse.
const charsPerLink = 20

// Quality is the scorer verdict for one extracted page.
type Quality struct {
	Score   float64
	Passed  bool
	Reasons []string
}

// Score rates extracted text on a 0..1 scale. Deductions are applied in a
// fixed order so that the same input always produces the same score and
// reason list.
func Score(text, html, title string, minChars int) Quality {
	q := Quality{Score: 1.0, Reasons: []string{}}
	textLen := len(text)

	if textLen < minChars {
		q.Score -= 0.4
		q.Reasons = append(q.Reasons, ReasonTextTooShort)
	} else if textLen < 2*minChars {
		q.Score -= 0.1
		q.Reasons = append(q.Reasons, ReasonTextShort)
	}

	if textLen > 0 {
		density := boilerplateDensity(text)
		if density > 0.3 {
			q.Score -= 0.3
			q.Reasons = append(q.Reasons, ReasonHighBoilerplate)
		} else if density > 0.15 {
			q.Score -= 0.1
			q.Reasons = append(q.Reasons, ReasonSomeBoilerplate)
		}

		linkRatio := float64(len(anchorTagRe.FindAllString(html, -1))*charsPerLink) / float64(textLen)
		if linkRatio > 0.5 {
			q.Score -= 0.3
			q.Reasons = append(q.Reasons, ReasonHighLinkDensity)
		} else if linkRatio > 0.35 {
			q.Score -= 0.1
			q.Reasons = append(q.Reasons, ReasonSomeLinkDensity)
		}

		if repeatedLineRatio(text) > 0.2 {
			q.Score -= 0.2
			q.Reasons = append(q.Reasons, ReasonRepeatedLines)
		}
	}

	if len(html) > 0 && float64(textLen)/float64(len(html)) < 0.05 {
		q.Score -= 0.2
		q.Reasons = append(q.Reasons, ReasonLowTextDensity)
	}

	if len(strings.TrimSpace(title)) < 3 {
		q.Score -= 0.1
		q.Reasons = append(q.Reasons, ReasonMissingTitle)
	}

	if q.Score < 0 {
		q.Score = 0
	}
	if q.Score > 1 {
		q.Score = 1
	}

	q.Passed = q.Score >= 0.5 && textLen >= minChars
	return q
}

// ShouldRetry reports whether a second extraction pass with a different
// method is worth attempting.
func ShouldRetry(q Quality) bool {
	if q.Score >= 0.3 && q.Score < 0.5 {
		return true
	}
	for _, r := range q.Reasons {
		if r == ReasonTextTooShort || r == ReasonHighBoilerplate {
			return true
		}
	}
	return false
}

// boilerplateDensity counts boilerplate phrase occurrences per 500
// characters of text.
func boilerplateDensity(text string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, phrase := range boilerplatePhrases {
		hits += strings.Count(lower, phrase)
	}
	blocks := float64(len(text)) / 500.0
	if blocks < 1 {
		blocks = 1
	}
	return float64(hits) / blocks
}

// repeatedLineRatio measures how many substantial lines repeat their
// immediate predecessor.
func repeatedLineRatio(text string) float64 {
	lines := strings.Split(text, "\n")
	total := 0
	repeated := 0
	prev := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if len(line) <= 10 {
			continue
		}
		total++
		if line == prev {
			repeated++
		}
		prev = line
	}
	if total == 0 {
		return 0
	}
	return float64(repeated) / float64(total)
}
