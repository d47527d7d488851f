package extract

import (
	"net/url"
	"regexp"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"

	"skrapp/internal/model"
)

var breadcrumbSelectors = []string{
	`nav[aria-label*="breadcrumb"]`,
	".breadcrumb",
	".breadcrumbs",
	`[class*="breadcrumb"]`,
}

var metaDateNames = []string{
	`meta[name="last-modified"]`,
	`meta[property="article:modified_time"]`,
	`meta[property="og:updated_time"]`,
	`meta[name="date"]`,
	`meta[name="dcterms.modified"]`,
}

var visibleDateRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:last\s+)?(?:updated|modified)(?:\s+on)?[:\s]+(\d{4}-\d{2}-\d{2})`),
	regexp.MustCompile(`(?i)(?:last\s+)?(?:updated|modified)(?:\s+on)?[:\s]+(\w+\s+\d{1,2},?\s+\d{4})`),
}

// PageMeta bundles the markdown rendering and structural metadata for one
// exported page.
type PageMeta struct {
	Markdown     string
	Sections     []model.Section
	Breadcrumbs  []model.Breadcrumb
	LastModified *string
}

// Meta renders the page's main content as markdown and collects sections,
// breadcrumbs, and the last-modified hint.
func Meta(html, pageURL string) PageMeta {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return PageMeta{}
	}

	base, _ := url.Parse(pageURL)

	return PageMeta{
		Markdown:     Markdown(doc, base),
		Sections:     Sections(doc, pageURL),
		Breadcrumbs:  Breadcrumbs(doc, base),
		LastModified: LastModified(doc),
	}
}

// Markdown converts the main content area to markdown.
func Markdown(doc *goquery.Document, base *url.URL) string {
	root := contentRoot(doc).Clone()
	root.Find(chromeSelector).Remove()

	raw, err := goquery.OuterHtml(root)
	if err != nil || raw == "" {
		return ""
	}

	domain := ""
	if base != nil {
		domain = base.Hostname()
	}
	conv := htmlmd.NewConverter(domain, true, nil)
	md, err := conv.ConvertString(raw)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(md)
}

// Sections lists the h1-h4 headings of the page with anchors where the
// heading carries an id.
func Sections(doc *goquery.Document, pageURL string) []model.Section {
	var sections []model.Section
	doc.Find("h1, h2, h3, h4").Each(func(_ int, sel *goquery.Selection) {
		title := strings.TrimSpace(sel.Text())
		if title == "" {
			return
		}
		level := 1
		switch goquery.NodeName(sel) {
		case "h2":
			level = 2
		case "h3":
			level = 3
		case "h4":
			level = 4
		}
		anchor := ""
		if id, ok := sel.Attr("id"); ok && id != "" {
			anchor = pageURL + "#" + id
		}
		sections = append(sections, model.Section{Level: level, Title: title, Anchor: anchor})
	})
	return sections
}

// Breadcrumbs extracts the breadcrumb trail from the first matching
// navigation container.
func Breadcrumbs(doc *goquery.Document, base *url.URL) []model.Breadcrumb {
	for _, selector := range breadcrumbSelectors {
		container := doc.Find(selector).First()
		if container.Length() == 0 {
			continue
		}

		var crumbs []model.Breadcrumb
		container.Find("a").Each(func(_ int, a *goquery.Selection) {
			title := strings.TrimSpace(a.Text())
			if title == "" {
				return
			}
			href, _ := a.Attr("href")
			crumbs = append(crumbs, model.Breadcrumb{Title: title, URL: resolve(base, href)})
		})
		if len(crumbs) > 0 {
			return crumbs
		}
	}
	return nil
}

// LastModified looks for a modification date in meta tags first, then in
// visible "Updated:" text.
func LastModified(doc *goquery.Document) *string {
	for _, selector := range metaDateNames {
		if content, ok := doc.Find(selector).First().Attr("content"); ok {
			content = strings.TrimSpace(content)
			if content != "" {
				return &content
			}
		}
	}

	text := doc.Find("body").First().Text()
	if len(text) > 20000 {
		text = text[:20000]
	}
	for _, re := range visibleDateRes {
		if m := re.FindStringSubmatch(text); m != nil {
			date := strings.TrimSpace(m[1])
			return &date
		}
	}
	return nil
}

func resolve(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	if base == nil {
		return href
	}
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
