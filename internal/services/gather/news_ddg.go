package gather

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
)

const (
	// DefaultDDGBaseURL is the DuckDuckGo HTML endpoint. No API key
	// required.
	DefaultDDGBaseURL = "https://html.duckduckgo.com"

	// DefaultNewsResults is the target result count for general news.
	DefaultNewsResults = 10

	// DefaultEarningsResults is the target result count for the targeted
	// earnings search.
	DefaultEarningsResults = 5
)

// NewsSearchClient runs recency-bounded news searches against the
// DuckDuckGo HTML endpoint and parses the result page.
type NewsSearchClient struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
}

// NewsOption configures the NewsSearchClient.
type NewsOption func(*NewsSearchClient)

// WithNewsBaseURL sets a custom base URL.
func WithNewsBaseURL(baseURL string) NewsOption {
	return func(c *NewsSearchClient) {
		c.baseURL = baseURL
	}
}

// WithNewsHTTPClient sets a custom HTTP client.
func WithNewsHTTPClient(httpClient *http.Client) NewsOption {
	return func(c *NewsSearchClient) {
		c.httpClient = httpClient
	}
}

// NewNewsSearchClient creates a new DuckDuckGo news search client.
func NewNewsSearchClient(logger arbor.ILogger, opts ...NewsOption) *NewsSearchClient {
	c := &NewsSearchClient{
		baseURL: DefaultDDGBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultPriceTimeout,
		},
		logger: logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SearchNews returns recent news results for a company.
func (c *NewsSearchClient) SearchNews(ctx context.Context, companyName string, ticker common.Ticker, maxResults int) ([]models.NewsItem, error) {
	query := fmt.Sprintf("%s %s %s news", companyName, ticker.Code, ticker.Exchange)
	return c.search(ctx, query, maxResults)
}

// SearchEarnings runs a targeted query for results, revenue, and
// guidance so the synthesis stage sees actual figures rather than
// headlines alone.
func (c *NewsSearchClient) SearchEarnings(ctx context.Context, companyName string, ticker common.Ticker, maxResults int) ([]models.NewsItem, error) {
	year := time.Now().UTC().Year()
	query := fmt.Sprintf("%s %s %s earnings results revenue EBIT guidance %d",
		companyName, ticker.Code, ticker.Exchange, year)
	return c.search(ctx, query, maxResults)
}

func (c *NewsSearchClient) search(ctx context.Context, query string, maxResults int) ([]models.NewsItem, error) {
	if maxResults <= 0 {
		maxResults = DefaultNewsResults
	}

	form := url.Values{}
	form.Set("q", query)
	// df=m restricts results to the past month.
	form.Set("df", "m")

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/html/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", yahooUserAgent)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse result page: %w", err)
	}

	results := parseResults(doc, maxResults)

	c.logger.Debug().
		Str("query", query).
		Int("count", len(results)).
		Msg("News search completed")

	return results, nil
}

func parseResults(doc *goquery.Document, maxResults int) []models.NewsItem {
	results := make([]models.NewsItem, 0, maxResults)
	doc.Find(".result").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		link := sel.Find(".result__a").First()
		title := strings.TrimSpace(link.Text())
		if title == "" {
			return true
		}
		href, _ := link.Attr("href")
		snippet := strings.TrimSpace(sel.Find(".result__snippet").First().Text())

		results = append(results, models.NewsItem{
			Title:   title,
			Snippet: snippet,
			URL:     cleanResultURL(href),
		})
		return len(results) < maxResults
	})
	return results
}

// cleanResultURL unwraps DuckDuckGo's redirect links to the target URL.
func cleanResultURL(href string) string {
	if href == "" {
		return ""
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	if parsed.Scheme == "" {
		return "https:" + href
	}
	return href
}
