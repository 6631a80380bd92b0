package civic

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/common"
	"github.com/ternarybob/eventjobs/internal/interfaces"
	"github.com/ternarybob/eventjobs/internal/models"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultMaxBodySize    = 5 * 1024 * 1024
	maxSummaryLength      = 500
)

// contentSelectors are tried in order for the main page body
var contentSelectors = []string{"main", "article", "[role='main']", "#content", ".content", "body"}

// noiseSelectors are removed before markdown conversion
var noiseSelectors = []string{"script", "style", "noscript", "nav", "header", "footer", "form", "iframe", "aside", "[role='navigation']", ".cookie-banner"}

// Service fetches civic engagement pages (consultations, council notices)
// and converts them to markdown.
type Service struct {
	config     *common.CivicConfig
	logger     arbor.ILogger
	httpClient *http.Client
	maxBody    int64
}

var _ interfaces.CivicSourceFetcher = (*Service)(nil)

// NewService creates a civic source fetcher
func NewService(config *common.CivicConfig, logger arbor.ILogger) *Service {
	maxBody := config.MaxBodySize
	if maxBody <= 0 {
		maxBody = defaultMaxBodySize
	}
	return &Service{
		config: config,
		logger: logger,
		httpClient: &http.Client{
			Timeout: common.ParseDuration(config.RequestTimeout, defaultRequestTimeout),
		},
		maxBody: maxBody,
	}
}

// Fetch downloads rawURL and returns its title, markdown body and a short summary.
// Hosts outside AllowedHosts (when set) and non-HTML responses are rejected as validation errors.
func (s *Service) Fetch(ctx context.Context, rawURL string) (*models.CivicPage, error) {
	target, err := url.Parse(rawURL)
	if err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, models.NewValidationError("The source link must be an http or https URL.", err)
	}
	if !s.hostAllowed(target.Hostname()) {
		return nil, models.NewValidationError("This source website is not supported.", fmt.Errorf("host %s not allowed", target.Hostname()))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if s.config.UserAgent != "" {
		req.Header.Set("User-Agent", s.config.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	s.logger.Debug().Str("url", target.String()).Msg("Fetching civic source page")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", target.Host, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("source page returned status %d", resp.StatusCode)
	}
	contentType := resp.Header.Get("Content-Type")
	if contentType != "" && !strings.Contains(contentType, "html") {
		return nil, models.NewValidationError("The source link does not point to a web page.", fmt.Errorf("content type %s", contentType))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read source page: %w", err)
	}
	if int64(len(body)) > s.maxBody {
		return nil, models.NewValidationError("The source page is too large to process.", fmt.Errorf("body exceeds %d bytes", s.maxBody))
	}

	page, err := s.convert(string(body), target)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("url", page.URL).
		Str("title", page.Title).
		Int("markdown_length", len(page.Markdown)).
		Msg("Civic source page converted")

	return page, nil
}

func (s *Service) hostAllowed(host string) bool {
	if len(s.config.AllowedHosts) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, allowed := range s.config.AllowedHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return true
		}
	}
	return false
}

// convert extracts title, main content and summary from an HTML document
func (s *Service) convert(html string, target *url.URL) (*models.CivicPage, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := extractTitle(doc)
	summary := extractSummary(doc)

	for _, selector := range noiseSelectors {
		doc.Find(selector).Remove()
	}

	var contentHTML string
	for _, selector := range contentSelectors {
		selection := doc.Find(selector).First()
		if selection.Length() == 0 {
			continue
		}
		if h, err := selection.Html(); err == nil && strings.TrimSpace(selection.Text()) != "" {
			contentHTML = h
			break
		}
	}

	baseURL := fmt.Sprintf("%s://%s", target.Scheme, target.Host)
	converter := md.NewConverter(baseURL, true, nil)
	markdown, err := converter.ConvertString(contentHTML)
	if err != nil {
		s.logger.Warn().Err(err).Msg("HTML to markdown conversion failed, using plain text")
		markdown = strings.TrimSpace(doc.Find("body").Text())
	}
	markdown = strings.TrimSpace(markdown)

	if title == "" && markdown == "" {
		return nil, models.NewValidationError("The source page has no readable content.", nil)
	}
	if summary == "" {
		summary = firstParagraph(doc)
	}

	return &models.CivicPage{
		URL:      target.String(),
		Title:    title,
		Markdown: markdown,
		Summary:  truncate(summary, maxSummaryLength),
	}, nil
}

func extractTitle(doc *goquery.Document) string {
	if v, ok := doc.Find("meta[property='og:title']").Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	if h1 := strings.TrimSpace(doc.Find("h1").First().Text()); h1 != "" {
		return h1
	}
	return strings.TrimSpace(doc.Find("title").First().Text())
}

func extractSummary(doc *goquery.Document) string {
	for _, selector := range []string{"meta[name='description']", "meta[property='og:description']"} {
		if v, ok := doc.Find(selector).Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func firstParagraph(doc *goquery.Document) string {
	var text string
	doc.Find("p").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text = strings.Join(strings.Fields(sel.Text()), " ")
		return text == ""
	})
	return text
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return strings.TrimSpace(string(runes[:max])) + "..."
}
