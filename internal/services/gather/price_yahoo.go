// Package gather collects the external evidence a refresh run needs:
// market prices, exchange announcements, and recent news.
package gather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
	"golang.org/x/time/rate"
)

const (
	// DefaultYahooBaseURL is the base URL for the Yahoo Finance chart API.
	DefaultYahooBaseURL = "https://query1.finance.yahoo.com"

	// DefaultPriceTimeout is the default HTTP timeout for price requests.
	DefaultPriceTimeout = 15 * time.Second

	// DefaultPriceRateLimit is the default rate limit (requests per second).
	DefaultPriceRateLimit = 5

	// historyDays is how much daily close history the document keeps for
	// its sparkline.
	historyDays = 90

	yahooUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
)

// YahooPriceClient fetches delayed market data from the Yahoo Finance
// chart API. No API key is required.
type YahooPriceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     arbor.ILogger
	limiter    *rate.Limiter
}

// YahooOption configures the YahooPriceClient.
type YahooOption func(*YahooPriceClient)

// WithYahooBaseURL sets a custom base URL.
func WithYahooBaseURL(baseURL string) YahooOption {
	return func(c *YahooPriceClient) {
		c.baseURL = baseURL
	}
}

// WithYahooHTTPClient sets a custom HTTP client.
func WithYahooHTTPClient(httpClient *http.Client) YahooOption {
	return func(c *YahooPriceClient) {
		c.httpClient = httpClient
	}
}

// WithYahooRateLimit sets a custom rate limit.
func WithYahooRateLimit(requestsPerSecond int) YahooOption {
	return func(c *YahooPriceClient) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// NewYahooPriceClient creates a new Yahoo Finance chart API client.
func NewYahooPriceClient(logger arbor.ILogger, opts ...YahooOption) *YahooPriceClient {
	c := &YahooPriceClient{
		baseURL: DefaultYahooBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultPriceTimeout,
		},
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(DefaultPriceRateLimit), DefaultPriceRateLimit),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// chartResponse is the subset of the Yahoo chart payload we read.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency            string  `json:"currency"`
				RegularMarketPrice  float64 `json:"regularMarketPrice"`
				RegularMarketVolume int64   `json:"regularMarketVolume"`
				PreviousClose       float64 `json:"previousClose"`
				ChartPreviousClose  float64 `json:"chartPreviousClose"`
				MarketCap           float64 `json:"marketCap"`
				RegularMarketTime   int64   `json:"regularMarketTime"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchPrice returns the current market snapshot for a ticker, including
// the 52-week range derived from a year of daily closes and the last 90
// days of history. Failures are reported in PriceData.Error rather than
// as a Go error so the rest of the gather bundle survives.
func (c *YahooPriceClient) FetchPrice(ctx context.Context, ticker common.Ticker) models.PriceData {
	symbol := ticker.YahooSymbol()

	data, err := c.fetchChart(ctx, symbol)
	if err != nil {
		c.logger.Warn().
			Err(err).
			Str("symbol", symbol).
			Msg("Yahoo price fetch failed")
		return models.PriceData{Symbol: symbol, Error: err.Error()}
	}

	return data
}

func (c *YahooPriceClient) fetchChart(ctx context.Context, symbol string) (models.PriceData, error) {
	var empty models.PriceData

	if err := c.limiter.Wait(ctx); err != nil {
		return empty, err
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s", c.baseURL, url.PathEscape(symbol))
	params := url.Values{}
	params.Set("interval", "1d")
	params.Set("range", "1y")

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return empty, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", yahooUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return empty, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return empty, fmt.Errorf("yahoo chart API returned status %d: %s", resp.StatusCode, string(body))
	}

	var chart chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&chart); err != nil {
		return empty, fmt.Errorf("failed to decode response: %w", err)
	}

	if chart.Chart.Error != nil {
		return empty, fmt.Errorf("yahoo chart API error: %s", chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return empty, fmt.Errorf("no chart data for %s", symbol)
	}

	result := chart.Chart.Result[0]
	meta := result.Meta

	price := meta.RegularMarketPrice
	prevClose := meta.PreviousClose
	if prevClose == 0 {
		prevClose = meta.ChartPreviousClose
	}

	var change, changePct float64
	if prevClose != 0 {
		change = round2(price - prevClose)
		changePct = round2((price - prevClose) / prevClose * 100)
	}

	var closes []*float64
	if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}

	low, high := price, price
	for _, cl := range closes {
		if cl == nil {
			continue
		}
		if *cl < low || low == 0 {
			low = *cl
		}
		if *cl > high {
			high = *cl
		}
	}

	history := buildHistory(result.Timestamp, closes, historyDays)

	data := models.PriceData{
		Symbol:        symbol,
		Currency:      models.CurrencySymbol(meta.Currency),
		Price:         round2(price),
		PreviousClose: round2(prevClose),
		Change:        change,
		ChangePct:     changePct,
		Volume:        meta.RegularMarketVolume,
		MarketCap:     meta.MarketCap,
		FiftyTwoLow:   round2(low),
		FiftyTwoHigh:  round2(high),
		History:       history,
	}
	if meta.RegularMarketTime > 0 {
		data.MarketTime = time.Unix(meta.RegularMarketTime, 0).UTC().Format(time.RFC3339)
	}

	c.logger.Debug().
		Str("symbol", symbol).
		Float64("price", data.Price).
		Int("history_points", len(history)).
		Msg("Fetched price data")

	return data, nil
}

// buildHistory returns the last maxDays daily closes as dated points.
func buildHistory(timestamps []int64, closes []*float64, maxDays int) []models.PricePoint {
	start := len(timestamps) - maxDays
	if start < 0 {
		start = 0
	}

	history := make([]models.PricePoint, 0, len(timestamps)-start)
	for i := start; i < len(timestamps); i++ {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		history = append(history, models.PricePoint{
			Date:  time.Unix(timestamps[i], 0).UTC().Format("2006-01-02"),
			Close: round2(*closes[i]),
		})
	}
	return history
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
