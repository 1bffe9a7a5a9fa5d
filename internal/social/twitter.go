// Package social looks up recent social-media chatter for a symbol.
package social

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"whale-alerts/internal/metrics"
	"whale-alerts/internal/version"
)

const (
	recentSearchPath = "/2/tweets/search/recent"
	minResults       = 10
	maxResults       = 100
	maxBodyBytes     = 1 << 20
)

// Fetcher returns recent post texts for a query. Failures yield an empty
// slice, never an error.
type Fetcher interface {
	FetchRecent(ctx context.Context, query string) []string
}

// Options parameterise the Twitter recent-search client.
type Options struct {
	BearerToken   string
	BaseURL       string
	MaxResults    int
	Timeout       time.Duration
	RatePerMinute float64
}

// Twitter queries the X/Twitter v2 recent search endpoint.
type Twitter struct {
	opts    Options
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewTwitter constructs the fetcher. client may be shared with other
// collaborators; per-call deadlines come from Options.Timeout.
func NewTwitter(opts Options, client *http.Client, logger zerolog.Logger, m *metrics.Metrics) *Twitter {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.MaxResults = clampResults(opts.MaxResults)

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.twitter.com"
	}
	if client == nil {
		client = &http.Client{}
	}
	if m == nil {
		m = metrics.New()
	}

	limit := rate.Inf
	if opts.RatePerMinute > 0 {
		limit = rate.Limit(opts.RatePerMinute / 60)
	}

	return &Twitter{
		opts:    opts,
		baseURL: baseURL,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		metrics: m,
		logger:  logger.With().Str("component", "social").Logger(),
	}
}

// Enabled reports whether a bearer token is configured.
func (t *Twitter) Enabled() bool {
	return strings.TrimSpace(t.opts.BearerToken) != ""
}

// FetchRecent returns up to MaxResults English, non-retweet post texts
// matching query.
func (t *Twitter) FetchRecent(ctx context.Context, query string) []string {
	if !t.Enabled() {
		t.logger.Debug().Msg("bearer token not set, skipping social lookup")
		return nil
	}

	if err := t.limiter.Wait(ctx); err != nil {
		t.logger.Warn().Err(err).Str("query", query).Msg("social lookup not started")
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, t.opts.Timeout)
	defer cancel()

	texts, err := t.search(ctx, query)
	if err != nil {
		t.logger.Error().Err(err).Str("query", query).Msg("social lookup failed")
		return nil
	}

	t.metrics.SocialSnippets.Observe(float64(len(texts)))
	t.logger.Debug().Str("query", query).Int("count", len(texts)).Msg("social lookup done")
	return texts
}

func (t *Twitter) search(ctx context.Context, query string) ([]string, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("(%s) -is:retweet lang:en", query))
	params.Set("max_results", strconv.Itoa(t.opts.MaxResults))
	params.Set("tweet.fields", "created_at")

	endpoint := t.baseURL + recentSearchPath + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+t.opts.BearerToken)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, parseHTTPError(resp.StatusCode, payload)
	}

	var res searchResponse
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	texts := make([]string, 0, len(res.Data))
	for _, tw := range res.Data {
		if tw.Text != "" {
			texts = append(texts, tw.Text)
		}
	}
	return texts, nil
}

func clampResults(n int) int {
	switch {
	case n < minResults:
		return minResults
	case n > maxResults:
		return maxResults
	default:
		return n
	}
}

type searchResponse struct {
	Data []struct {
		ID        string `json:"id"`
		Text      string `json:"text"`
		CreatedAt string `json:"created_at"`
	} `json:"data"`
	Meta struct {
		ResultCount int `json:"result_count"`
	} `json:"meta"`
}

type errorResponse struct {
	Title  string `json:"title"`
	Detail string `json:"detail"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Detail != "" {
			return fmt.Errorf("twitter api error (%d): %s", status, apiErr.Detail)
		}
		if len(apiErr.Errors) > 0 && apiErr.Errors[0].Message != "" {
			return fmt.Errorf("twitter api error (%d): %s", status, apiErr.Errors[0].Message)
		}
		if apiErr.Title != "" {
			return fmt.Errorf("twitter api error (%d): %s", status, apiErr.Title)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("twitter api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return fmt.Errorf("twitter api error (%d)", status)
}

var _ Fetcher = (*Twitter)(nil)
