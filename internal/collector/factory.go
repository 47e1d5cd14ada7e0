package collector

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/qepting91/termfreq/internal/config"
	"github.com/qepting91/termfreq/internal/domain"
	"golang.org/x/time/rate"
)

// NewCollector selects the correct implementation based on the mode. All
// terms fetched through the returned Searcher share its rate limiter.
func NewCollector(cfg *config.Config, logger *slog.Logger) (domain.Searcher, error) {
	switch cfg.CollectorMode {
	case "http":
		if cfg.UserAgent == "" {
			return nil, errors.New("http collector needs user_agent (or SEARCH_USER_AGENT)")
		}
		return NewSearchClient(cfg.UserAgent,
			WithBaseURL(cfg.SearchURL),
			WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout()}),
			WithLimiter(rate.NewLimiter(rate.Every(cfg.RequestInterval()), 1)),
			WithMaxRetries(cfg.MaxRetries),
			WithLogger(logger),
		)
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown COLLECTOR_MODE: %s (use 'http' or 'mock')", cfg.CollectorMode)
	}
}
