package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/qepting91/termfreq/internal/domain"
	"golang.org/x/time/rate"
)

const (
	DefaultSearchURL = "https://api.pushshift.io/reddit/comment/search"

	// MaxPageSize is the largest limit the search API honours
	MaxPageSize = 100

	DefaultMaxRetries = 8
)

// ErrRetriesExhausted is returned once a request has failed more than the
// configured number of retries. Callers treat it as "stop fetching this
// term", not as a fatal error.
var ErrRetriesExhausted = errors.New("retries exhausted")

// statusError marks a non-200 response or a transport failure, both of which
// are retried.
type statusError struct {
	status int
	err    error
}

func (e *statusError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("search transport error: %v", e.err)
	}
	return fmt.Sprintf("search status: %d", e.status)
}

func (e *statusError) Unwrap() error { return e.err }

type SearchClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
	userAgent  string
	maxRetries int
	logger     *slog.Logger

	// sleep waits out a backoff period; replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

type searchResponse struct {
	Data []domain.Comment `json:"data"`
}

type Option func(*SearchClient)

func WithBaseURL(u string) Option {
	return func(sc *SearchClient) { sc.baseURL = u }
}

func WithHTTPClient(c *http.Client) Option {
	return func(sc *SearchClient) { sc.httpClient = c }
}

// WithLimiter replaces the default one-request-per-second limiter. Clients
// fetching different terms in parallel must share one limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(sc *SearchClient) { sc.limiter = l }
}

func WithMaxRetries(n int) Option {
	return func(sc *SearchClient) { sc.maxRetries = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(sc *SearchClient) {
		if l != nil {
			sc.logger = l
		}
	}
}

func NewSearchClient(userAgent string, opts ...Option) (*SearchClient, error) {
	if userAgent == "" {
		return nil, fmt.Errorf("user agent is required")
	}
	sc := &SearchClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		// Search API limit: stay at or under 1 req / second
		limiter:    rate.NewLimiter(rate.Every(1*time.Second), 1),
		baseURL:    DefaultSearchURL,
		userAgent:  userAgent,
		maxRetries: DefaultMaxRetries,
		logger:     slog.Default(),
		sleep:      sleepCtx,
	}
	for _, opt := range opts {
		opt(sc)
	}
	return sc, nil
}

// Search performs one windowed search. Failed attempts are retried after
// 2, 4, 8... seconds until maxRetries retries have failed.
func (sc *SearchClient) Search(ctx context.Context, q domain.Query) ([]domain.Comment, error) {
	u := sc.buildURL(q)

	var lastErr error
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			if attempt > sc.maxRetries {
				return nil, fmt.Errorf("%w for %s: %w", ErrRetriesExhausted, u, lastErr)
			}
			wait := time.Duration(1<<attempt) * time.Second
			sc.logger.Debug("Retrying search", "term", q.Term, "attempt", attempt, "wait", wait, "err", lastErr)
			if err := sc.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}

		comments, err := sc.do(ctx, u)
		if err == nil {
			return comments, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var se *statusError
		if !errors.As(err, &se) {
			return nil, err
		}
		lastErr = err
	}
}

func (sc *SearchClient) do(ctx context.Context, u string) ([]domain.Comment, error) {
	if err := sc.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", sc.userAgent)

	resp, err := sc.httpClient.Do(req)
	if err != nil {
		return nil, &statusError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, &statusError{status: resp.StatusCode}
	}

	var sResp searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sResp); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return sResp.Data, nil
}

func (sc *SearchClient) buildURL(q domain.Query) string {
	limit := q.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	sort := q.Sort
	if sort == "" {
		sort = domain.SortDesc
	}

	v := url.Values{}
	v.Set("q", q.Term)
	v.Set("limit", strconv.Itoa(limit))
	v.Set("sort", string(sort))
	v.Set("after", strconv.FormatInt(q.After, 10))
	v.Set("before", strconv.FormatInt(q.Before, 10))
	return sc.baseURL + "?" + v.Encode()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
