package finalize

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"skrapp/internal/model"
)

const manifestFormatVersion = "1.0"

const maxManifestSections = 20

var nonWordRe = regexp.MustCompile(`\W+`)
var underscoreRuns = regexp.MustCompile(`_+`)

// Manifest is kb/manifest.json.
type Manifest struct {
	JobID         string         `json:"job_id"`
	GeneratedAt   string         `json:"generated_at"`
	FormatVersion string         `json:"format_version"`
	TotalPages    int            `json:"total_pages"`
	Pages         []ManifestPage `json:"pages"`
}

type ManifestPage struct {
	ID           string          `json:"id"`
	Filename     string          `json:"filename"`
	SourceURL    string          `json:"source_url"`
	Title        string          `json:"title"`
	Breadcrumbs  []string        `json:"breadcrumbs"`
	Sections     []model.Section `json:"sections"`
	LastModified *string         `json:"last_modified"`
	FetchedAt    string          `json:"fetched_at"`
	TextLength   int             `json:"text_length"`
}

// frontmatter is the YAML header of each exported markdown file.
type frontmatter struct {
	SourceURL       string          `yaml:"source_url"`
	Title           string          `yaml:"title"`
	Breadcrumbs     []string        `yaml:"breadcrumbs,omitempty"`
	BreadcrumbLinks []string        `yaml:"breadcrumb_links,omitempty"`
	Sections        []model.Section `yaml:"sections,omitempty"`
	LastModified    *string         `yaml:"last_modified,omitempty"`
	FetchedAt       string          `yaml:"fetched_at"`
}

// WriteKB renders the knowledge-base bundle for the exported records.
func WriteKB(dir, jobID string, exported []model.PageRecord) error {
	kbDir := filepath.Join(dir, KBDir)
	pagesDir := filepath.Join(kbDir, "pages")
	if err := os.MkdirAll(pagesDir, 0o755); err != nil {
		return err
	}

	manifest := Manifest{
		JobID:         jobID,
		GeneratedAt:   time.Now().UTC().Format(time.RFC3339),
		FormatVersion: manifestFormatVersion,
		TotalPages:    len(exported),
		Pages:         []ManifestPage{},
	}

	usedSlugs := make(map[string]int)
	for i, rec := range exported {
		pageID := fmt.Sprintf("page_%04d", i+1)
		slug := Slug(rec.CanonicalURL)
		if slug == "" {
			slug = pageID
		}
		if n := usedSlugs[slug]; n > 0 {
			slug = fmt.Sprintf("%s_%d", slug, n+1)
		}
		usedSlugs[Slug(rec.CanonicalURL)]++

		filename := filepath.Join("pages", slug+".md")
		if err := writePage(filepath.Join(kbDir, filename), rec); err != nil {
			return err
		}

		sections := rec.Sections
		if len(sections) > maxManifestSections {
			sections = sections[:maxManifestSections]
		}

		manifest.Pages = append(manifest.Pages, ManifestPage{
			ID:           pageID,
			Filename:     filename,
			SourceURL:    rec.URL,
			Title:        rec.Title,
			Breadcrumbs:  breadcrumbTitles(rec.Breadcrumbs),
			Sections:     sections,
			LastModified: rec.LastModified,
			FetchedAt:    rec.FetchedAt,
			TextLength:   len(rec.Text),
		})
	}

	return writeJSON(filepath.Join(kbDir, "manifest.json"), manifest)
}

func writePage(path string, rec model.PageRecord) error {
	sections := rec.Sections
	if len(sections) > maxManifestSections {
		sections = sections[:maxManifestSections]
	}

	fm := frontmatter{
		SourceURL:       rec.URL,
		Title:           rec.Title,
		Breadcrumbs:     breadcrumbTitles(rec.Breadcrumbs),
		BreadcrumbLinks: breadcrumbURLs(rec.Breadcrumbs),
		Sections:        sections,
		LastModified:    rec.LastModified,
		FetchedAt:       rec.FetchedAt,
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		return err
	}

	body := rec.Markdown
	if body == "" {
		body = rec.Text
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header)
	buf.WriteString("---\n\n")
	if rec.Title != "" && !strings.HasPrefix(strings.TrimSpace(body), "#") {
		buf.WriteString("# " + rec.Title + "\n\n")
	}
	buf.WriteString(body)
	buf.WriteString("\n\n---\n*Source: [" + rec.URL + "](" + rec.URL + ")*\n")

	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Slug derives a filesystem-safe name from a URL path: non-word runs
// become underscores and the result is capped at 80 characters.
func Slug(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	s := strings.Trim(u.Path, "/")
	s = nonWordRe.ReplaceAllString(s, "_")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	s = strings.ToLower(s)

	if len(s) > 80 {
		s = s[:80]
		s = strings.Trim(s, "_")
	}
	return s
}

func breadcrumbTitles(crumbs []model.Breadcrumb) []string {
	out := make([]string, 0, len(crumbs))
	for _, c := range crumbs {
		out = append(out, c.Title)
	}
	return out
}

func breadcrumbURLs(crumbs []model.Breadcrumb) []string {
	out := make([]string, 0, len(crumbs))
	for _, c := range crumbs {
		if c.URL != "" {
			out = append(out, c.URL)
		}
	}
	return out
}
