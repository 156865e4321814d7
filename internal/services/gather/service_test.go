package gather

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
)

func createTestLogger() arbor.ILogger {
	return arbor.NewLogger()
}

func testTicker(t *testing.T) common.Ticker {
	t.Helper()
	return common.ParseTicker("WOW")
}

func yahooChartBody() string {
	now := time.Now().UTC().Unix()
	return fmt.Sprintf(`{
		"chart": {
			"result": [{
				"meta": {
					"currency": "AUD",
					"regularMarketPrice": 37.52,
					"regularMarketVolume": 2500000,
					"previousClose": 37.10,
					"regularMarketTime": %d
				},
				"timestamp": [%d, %d, %d],
				"indicators": {"quote": [{"close": [35.00, null, 37.52]}]}
			}],
			"error": null
		}
	}`, now, now-172800, now-86400, now)
}

func TestYahooPriceClient_FetchPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/v8/finance/chart/WOW.AX")
		assert.Equal(t, "1d", r.URL.Query().Get("interval"))
		assert.Equal(t, "1y", r.URL.Query().Get("range"))
		fmt.Fprint(w, yahooChartBody())
	}))
	defer server.Close()

	client := NewYahooPriceClient(createTestLogger(), WithYahooBaseURL(server.URL))
	data := client.FetchPrice(context.Background(), testTicker(t))

	require.Empty(t, data.Error)
	assert.Equal(t, "WOW.AX", data.Symbol)
	assert.Equal(t, 37.52, data.Price)
	assert.Equal(t, 0.42, data.Change)
	assert.Equal(t, "A$", data.Currency)
	assert.Equal(t, 35.00, data.FiftyTwoLow)
	assert.Equal(t, 37.52, data.FiftyTwoHigh)
	// The null close must be dropped from history.
	assert.Len(t, data.History, 2)
}

func TestYahooPriceClient_ErrorMarksSourceUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := NewYahooPriceClient(createTestLogger(), WithYahooBaseURL(server.URL))
	data := client.FetchPrice(context.Background(), testTicker(t))

	assert.NotEmpty(t, data.Error)
	assert.Zero(t, data.Price)
}

func TestASXAnnouncementsClient_FiltersByWindow(t *testing.T) {
	recent := time.Now().UTC().AddDate(0, 0, -5).Format("2006-01-02T15:04:05")
	stale := time.Now().UTC().AddDate(0, 0, -90).Format("2006-01-02T15:04:05")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/asx/1/company/WOW/announcements")
		fmt.Fprintf(w, `{"data": [
			{"document_date": %q, "header": "FY26 Half Year Results", "url": "https://example.com/a", "market_sensitive": true},
			{"document_date": %q, "header": "Old Notice", "url": "https://example.com/b"},
			{"document_date": "", "header": "No Date"}
		]}`, recent, stale)
	}))
	defer server.Close()

	client := NewASXAnnouncementsClient(createTestLogger(), WithASXBaseURL(server.URL), WithASXLookbackDays(30))
	anns, err := client.FetchAnnouncements(context.Background(), testTicker(t))

	require.NoError(t, err)
	require.Len(t, anns, 1)
	assert.Equal(t, "FY26 Half Year Results", anns[0].Headline)
	assert.True(t, anns[0].PriceSensitive)
}

func TestASXAnnouncementsClient_NonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewASXAnnouncementsClient(createTestLogger(), WithASXBaseURL(server.URL))
	_, err := client.FetchAnnouncements(context.Background(), testTicker(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

const ddgResultsPage = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fnews.example.com%2Fwow-earnings">Woolworths beats guidance</a>
  <div class="result__snippet">Revenue up 4.1% on strong food sales.</div>
</div>
<div class="result">
  <a class="result__a" href="https://other.example.com/article">Second story</a>
  <div class="result__snippet">More details here.</div>
</div>
<div class="result">
  <a class="result__a" href="https://ignored.example.com"></a>
</div>
</body></html>`

func TestNewsSearchClient_ParsesResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.Form.Get("q"), "WOW")
		assert.Equal(t, "m", r.Form.Get("df"))
		fmt.Fprint(w, ddgResultsPage)
	}))
	defer server.Close()

	client := NewNewsSearchClient(createTestLogger(), WithNewsBaseURL(server.URL))
	items, err := client.SearchNews(context.Background(), "Woolworths Group", testTicker(t), 10)

	require.NoError(t, err)
	require.Len(t, items, 2, "result with empty title must be dropped")
	assert.Equal(t, "Woolworths beats guidance", items[0].Title)
	assert.Equal(t, "https://news.example.com/wow-earnings", items[0].URL, "redirect link must be unwrapped")
	assert.Equal(t, "Revenue up 4.1% on strong food sales.", items[0].Snippet)
}

func TestNewsSearchClient_MaxResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ddgResultsPage)
	}))
	defer server.Close()

	client := NewNewsSearchClient(createTestLogger(), WithNewsBaseURL(server.URL))
	items, err := client.SearchNews(context.Background(), "Woolworths Group", testTicker(t), 1)

	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestService_GatherSurvivesFailedSources(t *testing.T) {
	// Every upstream is down; the bundle must still come back usable.
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()

	logger := createTestLogger()
	service := NewServiceWithClients(
		NewYahooPriceClient(logger, WithYahooBaseURL(down.URL)),
		NewASXAnnouncementsClient(logger, WithASXBaseURL(down.URL)),
		NewNewsSearchClient(logger, WithNewsBaseURL(down.URL)),
		logger,
	)

	bundle := service.GatherWithCompany(context.Background(), testTicker(t), "Woolworths Group")

	require.NotNil(t, bundle)
	assert.NotEmpty(t, bundle.Price.Error)
	assert.Empty(t, bundle.Announcements)
	assert.Empty(t, bundle.News)
	assert.True(t, bundle.Empty())
	assert.False(t, bundle.GatheredAt.IsZero())
}

func TestService_GatherAllSourcesHealthy(t *testing.T) {
	yahoo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, yahooChartBody())
	}))
	defer yahoo.Close()

	recent := time.Now().UTC().AddDate(0, 0, -2).Format("2006-01-02T15:04:05")
	asx := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"data": [{"document_date": %q, "header": "Trading Update"}]}`, recent)
	}))
	defer asx.Close()

	ddg := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, ddgResultsPage)
	}))
	defer ddg.Close()

	logger := createTestLogger()
	service := NewServiceWithClients(
		NewYahooPriceClient(logger, WithYahooBaseURL(yahoo.URL)),
		NewASXAnnouncementsClient(logger, WithASXBaseURL(asx.URL)),
		NewNewsSearchClient(logger, WithNewsBaseURL(ddg.URL)),
		logger,
	)

	bundle := service.GatherWithCompany(context.Background(), testTicker(t), "Woolworths Group")

	assert.Empty(t, bundle.Price.Error)
	assert.Len(t, bundle.Announcements, 1)
	assert.NotEmpty(t, bundle.News)
	assert.NotEmpty(t, bundle.EarningsNews)
	assert.False(t, bundle.Empty())
}
