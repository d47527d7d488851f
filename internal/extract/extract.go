// Package extract turns raw HTML into text, markdown, and page metadata.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"skrapp/internal/model"
)

// chrome elements removed before any content extraction.
const chromeSelector = "script, style, noscript, nav, header, footer, aside, iframe, form, button"

var contentClassRe = regexp.MustCompile(`(?i)content|main|body|article|documentation|docs`)

// Result is the outcome of one extraction attempt.
type Result struct {
	Text  string
	Title string
	Mode  string
}

// Cascade runs the extractor chain and returns the first result whose
// stripped length reaches minLen: content-area extraction first, then the
// readability heuristic, then plain document text.
func Cascade(html string, minLen int) Result {
	if html == "" {
		return Result{Mode: model.ExtractFallback}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{Mode: model.ExtractFallback}
	}

	title := Title(doc)

	if text := Primary(doc); len(strings.TrimSpace(text)) >= minLen {
		return Result{Text: text, Title: title, Mode: model.ExtractPrimary}
	}
	if text := Secondary(doc); len(strings.TrimSpace(text)) >= minLen {
		return Result{Text: text, Title: title, Mode: model.ExtractSecondary}
	}
	return Result{Text: Fallback(doc), Title: title, Mode: model.ExtractFallback}
}

// ByMode runs a single named extractor, used when the quality stage retries
// with a different method.
func ByMode(html, mode string) Result {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return Result{Mode: model.ExtractFallback}
	}

	title := Title(doc)
	switch mode {
	case model.ExtractPrimary:
		return Result{Text: Primary(doc), Title: title, Mode: mode}
	case model.ExtractSecondary:
		return Result{Text: Secondary(doc), Title: title, Mode: mode}
	default:
		return Result{Text: Fallback(doc), Title: title, Mode: model.ExtractFallback}
	}
}

// Primary extracts text from the page's main content area.
func Primary(doc *goquery.Document) string {
	clone := contentRoot(doc).Clone()
	clone.Find(chromeSelector).Remove()
	return normalizeLines(clone.Text())
}

// Secondary is a readability-style heuristic: pick the block element with
// the highest text mass after discounting link text.
func Secondary(doc *goquery.Document) string {
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return ""
	}

	clone := body.Clone()
	clone.Find(chromeSelector).Remove()

	var best *goquery.Selection
	bestScore := 0

	clone.Find("div, section, article, main, td").Each(func(_ int, sel *goquery.Selection) {
		text := sel.Text()
		linkText := sel.Find("a").Text()
		score := len(text) - 2*len(linkText)
		if score > bestScore {
			bestScore = score
			best = sel
		}
	})

	if best == nil {
		return normalizeLines(clone.Text())
	}
	return normalizeLines(best.Text())
}

// Fallback returns the whole document as plain text.
func Fallback(doc *goquery.Document) string {
	clone := doc.Selection.Clone()
	clone.Find("script, style, noscript").Remove()
	return normalizeLines(clone.Text())
}

// Title returns the page title, falling back to the first h1.
func Title(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func contentRoot(doc *goquery.Document) *goquery.Selection {
	if sel := doc.Find("main").First(); sel.Length() > 0 {
		return sel
	}
	if sel := doc.Find("article").First(); sel.Length() > 0 {
		return sel
	}
	var match *goquery.Selection
	doc.Find("div, section").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if class, ok := sel.Attr("class"); ok && contentClassRe.MatchString(class) {
			match = sel
			return false
		}
		return true
	})
	if match != nil {
		return match
	}
	if sel := doc.Find("body").First(); sel.Length() > 0 {
		return sel
	}
	return doc.Selection
}

// normalizeLines collapses intra-line whitespace and drops empty lines.
func normalizeLines(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// TextHash computes the content identity hash: SHA-256 of the lowercased,
// whitespace-collapsed text, prefixed with the algorithm name.
func TextHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return "sha256:" + hex.EncodeToString(sum[:])
}
