package publish

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/ternarybob/arbor"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
)

// Document is the content written by the markdown publisher
type Document struct {
	Title     string
	Content   string
	SourceURL string
	Filename  string // optional, derived from the title when empty
}

// File describes a published document on disk
type File struct {
	Slug     string `json:"slug"`
	Path     string `json:"path"`
	HTMLPath string `json:"html_path,omitempty"`
}

// MarkdownPublisher writes documents as markdown files, optionally with a
// rendered HTML copy alongside
type MarkdownPublisher struct {
	outputDir  string
	renderHTML bool
	markdown   goldmark.Markdown
	logger     arbor.ILogger
}

// NewMarkdownPublisher creates a publisher writing under config.OutputDir
func NewMarkdownPublisher(config common.PublishConfig, logger arbor.ILogger) *MarkdownPublisher {
	outputDir := config.OutputDir
	if outputDir == "" {
		outputDir = "./output"
	}
	return &MarkdownPublisher{
		outputDir:  outputDir,
		renderHTML: config.RenderHTML,
		markdown: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithParserOptions(parser.WithAutoHeadingID()),
		),
		logger: logger,
	}
}

// Publish writes a new document. An existing file with the same slug gets a
// timestamp suffix instead of being overwritten.
func (p *MarkdownPublisher) Publish(doc Document, dir string) (*File, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}

	target, err := p.resolveDir(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	name := doc.Filename
	if name == "" {
		name = doc.Title
	}
	slug := Slugify(name)
	path := filepath.Join(target, slug+".md")
	if _, err := os.Stat(path); err == nil {
		slug = fmt.Sprintf("%s-%d", slug, time.Now().Unix())
		path = filepath.Join(target, slug+".md")
	}

	file := &File{Slug: slug, Path: path}
	if err := p.write(file, doc); err != nil {
		return nil, err
	}

	p.logger.Info().
		Str("path", file.Path).
		Str("title", doc.Title).
		Msg("Markdown document published")
	return file, nil
}

// Update rewrites an existing document in place
func (p *MarkdownPublisher) Update(path string, doc Document) (*File, error) {
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("content is required")
	}
	resolved, err := p.within(path)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(resolved); err != nil {
		return nil, fmt.Errorf("document %s does not exist: %w", path, err)
	}

	slug := strings.TrimSuffix(filepath.Base(resolved), filepath.Ext(resolved))
	file := &File{Slug: slug, Path: resolved}
	if err := p.write(file, doc); err != nil {
		return nil, err
	}

	p.logger.Info().Str("path", file.Path).Msg("Markdown document updated")
	return file, nil
}

func (p *MarkdownPublisher) write(file *File, doc Document) error {
	body := renderMarkdown(doc)
	if err := os.WriteFile(file.Path, []byte(body), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file.Path, err)
	}

	if !p.renderHTML {
		return nil
	}
	var html bytes.Buffer
	if err := p.markdown.Convert([]byte(body), &html); err != nil {
		return fmt.Errorf("failed to render HTML: %w", err)
	}
	file.HTMLPath = strings.TrimSuffix(file.Path, ".md") + ".html"
	if err := os.WriteFile(file.HTMLPath, html.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", file.HTMLPath, err)
	}
	return nil
}

func renderMarkdown(doc Document) string {
	var b strings.Builder
	if doc.Title != "" && !strings.HasPrefix(strings.TrimSpace(doc.Content), "# ") {
		b.WriteString("# ")
		b.WriteString(doc.Title)
		b.WriteString("\n\n")
	}
	b.WriteString(strings.TrimSpace(doc.Content))
	b.WriteString("\n")
	if doc.SourceURL != "" {
		b.WriteString("\nSource: <")
		b.WriteString(doc.SourceURL)
		b.WriteString(">\n")
	}
	return b.String()
}

// resolveDir returns dir under the output directory
func (p *MarkdownPublisher) resolveDir(dir string) (string, error) {
	if dir == "" {
		return p.outputDir, nil
	}
	return p.within(dir)
}

// within resolves path relative to the output directory, rejecting escapes
func (p *MarkdownPublisher) within(path string) (string, error) {
	root, err := filepath.Abs(p.outputDir)
	if err != nil {
		return "", err
	}
	candidate := path
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(root, candidate)
	}
	candidate = filepath.Clean(candidate)
	rel, err := filepath.Rel(root, candidate)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %s is outside the output directory", path)
	}
	return candidate, nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify converts a title into a file-safe slug
func Slugify(title string) string {
	slug := strings.Trim(slugPattern.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if slug == "" {
		return "untitled"
	}
	if len(slug) > 80 {
		slug = strings.TrimRight(slug[:80], "-")
	}
	return slug
}
