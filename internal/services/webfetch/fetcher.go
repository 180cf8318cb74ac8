package webfetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/saraichinwag/data-machine-sub002/internal/common"
	"github.com/ternarybob/arbor"
)

// Page is a fetched web page reduced to markdown
type Page struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Markdown    string `json:"markdown"`
	ImageURL    string `json:"image_url,omitempty"`
}

// Fetcher downloads pages and converts their main content to markdown
type Fetcher struct {
	client    *http.Client
	userAgent string
	maxBody   int64
	logger    arbor.ILogger
}

// NewFetcher creates a fetcher from the [fetch] config
func NewFetcher(config common.FetchConfig, logger arbor.ILogger) *Fetcher {
	maxBody := config.MaxBodySize
	if maxBody <= 0 {
		maxBody = 10 * 1024 * 1024
	}
	return &Fetcher{
		client:    &http.Client{Timeout: common.ParseDuration(config.RequestTimeout, 30*time.Second)},
		userAgent: config.UserAgent,
		maxBody:   maxBody,
		logger:    logger,
	}
}

// Fetch downloads url and extracts its title and markdown content
func (f *Fetcher) Fetch(ctx context.Context, url string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", url, err)
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("failed to fetch %s: status %d", url, resp.StatusCode)
	}

	page, err := f.Parse(io.LimitReader(resp.Body, f.maxBody), url)
	if err != nil {
		return nil, err
	}

	f.logger.Debug().
		Str("url", url).
		Str("title", page.Title).
		Int("markdown_length", len(page.Markdown)).
		Msg("Web page fetched")

	return page, nil
}

// Parse extracts a page from an HTML document
func (f *Fetcher) Parse(r io.Reader, baseURL string) (*Page, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	page := &Page{
		URL:         baseURL,
		Title:       extractTitle(doc),
		Description: metaContent(doc, "meta[name='description']", "meta[property='og:description']"),
		ImageURL:    metaContent(doc, "meta[property='og:image']"),
	}

	doc.Find("script, style, nav, footer, aside, noscript").Remove()
	content := mainContent(doc)

	html, err := content.Html()
	if err != nil {
		return nil, fmt.Errorf("failed to render content: %w", err)
	}

	converter := md.NewConverter(baseURL, true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		f.logger.Warn().Err(err).Str("url", baseURL).Msg("Markdown conversion failed, using plain text")
		markdown = content.Text()
	}
	page.Markdown = strings.TrimSpace(markdown)
	return page, nil
}

// mainContent picks the first matching container in priority order
func mainContent(doc *goquery.Document) *goquery.Selection {
	for _, selector := range []string{"main", "article", "#content", ".content", "body"} {
		if sel := doc.Find(selector).First(); sel.Length() > 0 {
			return sel
		}
	}
	return doc.Selection
}

func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		return title
	}
	if title := metaContent(doc, "meta[property='og:title']"); title != "" {
		return title
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return "Untitled"
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, selector := range selectors {
		if value, ok := doc.Find(selector).First().Attr("content"); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
