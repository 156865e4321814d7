package gather

import (
	"context"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/continuum/internal/common"
	"github.com/ternarybob/continuum/internal/models"
)

// Service fans out to all external sources for one ticker. Each source
// fails independently; a down source is recorded in the bundle and never
// aborts the gather.
type Service struct {
	price         *YahooPriceClient
	announcements *ASXAnnouncementsClient
	news          *NewsSearchClient
	logger        arbor.ILogger

	newsResults     int
	earningsResults int
}

// NewService creates a gather service from configuration.
func NewService(cfg *common.Config, logger arbor.ILogger) *Service {
	return &Service{
		price:         NewYahooPriceClient(logger),
		announcements: NewASXAnnouncementsClient(logger, WithASXLookbackDays(cfg.Refresh.AnnouncementDays)),
		news:          NewNewsSearchClient(logger),
		logger:        logger,

		newsResults:     cfg.Refresh.NewsResults,
		earningsResults: cfg.Refresh.EarningsResults,
	}
}

// NewServiceWithClients creates a gather service with explicit clients,
// used by tests to point at stub servers.
func NewServiceWithClients(price *YahooPriceClient, announcements *ASXAnnouncementsClient, news *NewsSearchClient, logger arbor.ILogger) *Service {
	return &Service{
		price:           price,
		announcements:   announcements,
		news:            news,
		logger:          logger,
		newsResults:     DefaultNewsResults,
		earningsResults: DefaultEarningsResults,
	}
}

// Gather collects price, announcements, news, and earnings results for a
// ticker concurrently. The company name used in search queries is passed
// by the caller, who reads it from the stored document.
func (s *Service) Gather(ctx context.Context, ticker common.Ticker) *models.GatheredData {
	return s.GatherWithCompany(ctx, ticker, ticker.Code)
}

// GatherWithCompany is Gather with an explicit company name for the news
// queries.
func (s *Service) GatherWithCompany(ctx context.Context, ticker common.Ticker, companyName string) *models.GatheredData {
	bundle := &models.GatheredData{
		Ticker:     ticker,
		GatheredAt: time.Now().UTC(),
	}

	var wg sync.WaitGroup
	wg.Add(4)

	common.SafeGo(s.logger, "gather-price", func() {
		defer wg.Done()
		bundle.Price = s.price.FetchPrice(ctx, ticker)
	})

	common.SafeGo(s.logger, "gather-announcements", func() {
		defer wg.Done()
		anns, err := s.announcements.FetchAnnouncements(ctx, ticker)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("ticker", ticker.Code).
				Msg("Announcements unavailable, continuing without them")
			return
		}
		bundle.Announcements = anns
	})

	common.SafeGo(s.logger, "gather-news", func() {
		defer wg.Done()
		news, err := s.news.SearchNews(ctx, companyName, ticker, s.newsResults)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("ticker", ticker.Code).
				Msg("News search unavailable, continuing without it")
			return
		}
		bundle.News = news
	})

	common.SafeGo(s.logger, "gather-earnings", func() {
		defer wg.Done()
		earnings, err := s.news.SearchEarnings(ctx, companyName, ticker, s.earningsResults)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("ticker", ticker.Code).
				Msg("Earnings search unavailable, continuing without it")
			return
		}
		bundle.EarningsNews = earnings
	})

	wg.Wait()

	s.logger.Info().
		Str("ticker", ticker.Code).
		Bool("price_ok", bundle.Price.Error == "").
		Int("announcements", len(bundle.Announcements)).
		Int("news", len(bundle.News)).
		Int("earnings_news", len(bundle.EarningsNews)).
		Msg("Data gathering completed")

	return bundle
}
