package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
)

const (
	// DefaultASXBaseURL is the base URL for the ASX company API.
	DefaultASXBaseURL = "https://www.asx.com.au"

	// DefaultAnnouncementDays is the lookback window for announcements.
	DefaultAnnouncementDays = 30

	announcementFetchCount = 20
)

// ASXAnnouncementsClient fetches recent company announcements from the
// ASX company API.
type ASXAnnouncementsClient struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	days       int
}

// ASXOption configures the ASXAnnouncementsClient.
type ASXOption func(*ASXAnnouncementsClient)

// WithASXBaseURL sets a custom base URL.
func WithASXBaseURL(baseURL string) ASXOption {
	return func(c *ASXAnnouncementsClient) {
		c.baseURL = baseURL
	}
}

// WithASXHTTPClient sets a custom HTTP client.
func WithASXHTTPClient(httpClient *http.Client) ASXOption {
	return func(c *ASXAnnouncementsClient) {
		c.httpClient = httpClient
	}
}

// WithASXLookbackDays sets the announcement lookback window.
func WithASXLookbackDays(days int) ASXOption {
	return func(c *ASXAnnouncementsClient) {
		c.days = days
	}
}

// NewASXAnnouncementsClient creates a new ASX announcements client.
func NewASXAnnouncementsClient(logger arbor.ILogger, opts ...ASXOption) *ASXAnnouncementsClient {
	c := &ASXAnnouncementsClient{
		baseURL: DefaultASXBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultPriceTimeout,
		},
		logger: logger,
		days:   DefaultAnnouncementDays,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

type asxAnnouncementsResponse struct {
	Data []struct {
		DocumentDate    string `json:"document_date"`
		Header          string `json:"header"`
		URL             string `json:"url"`
		MarketSensitive bool   `json:"market_sensitive"`
		NumberOfPages   int    `json:"number_of_pages"`
	} `json:"data"`
}

// FetchAnnouncements returns announcements for the ticker within the
// lookback window, newest first as the API serves them. An unavailable
// feed returns an error; callers record it and continue without
// announcements.
func (c *ASXAnnouncementsClient) FetchAnnouncements(ctx context.Context, ticker common.Ticker) ([]models.Announcement, error) {
	endpoint := fmt.Sprintf("%s/asx/1/company/%s/announcements",
		c.baseURL, url.PathEscape(strings.ToUpper(ticker.Code)))
	params := url.Values{}
	params.Set("count", fmt.Sprintf("%d", announcementFetchCount))
	params.Set("market_sensitive", "false")

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ASX announcements returned status %d", resp.StatusCode)
	}

	var payload asxAnnouncementsResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -c.days)
	announcements := make([]models.Announcement, 0, len(payload.Data))
	for _, item := range payload.Data {
		annDate, err := parseASXDate(item.DocumentDate)
		if err != nil {
			continue
		}
		if annDate.Before(cutoff) {
			continue
		}
		announcements = append(announcements, models.Announcement{
			Date:           annDate.Format("2006-01-02"),
			Headline:       item.Header,
			URL:            item.URL,
			PriceSensitive: item.MarketSensitive,
		})
	}

	c.logger.Debug().
		Str("ticker", ticker.Code).
		Int("count", len(announcements)).
		Int("days", c.days).
		Msg("Fetched ASX announcements")

	return announcements, nil
}

// parseASXDate accepts the ISO timestamp formats the ASX API serves.
func parseASXDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date format: %s", value)
}
