// Package analysis asks a hosted language model for a short market-impact
// read on a whale movement.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"whale-alerts/internal/metrics"
)

// Placeholder texts returned instead of an analysis. All start with ErrorPrefix.
const (
	ErrorPrefix = "Error:"

	TextTimeout          = "Error: Model analysis timed out."
	TextModelLoading     = "Error: Model loading (503)"
	TextConnect          = "Error: Could not connect to model API."
	TextUnexpectedFormat = "Error: Unexpected response format"
	TextNotConfigured    = "Error: Model URL/token not configured."
)

// Analyzer produces the analysis text and the inference time. It never
// fails; problems are reported through placeholder text.
type Analyzer interface {
	Analyze(ctx context.Context, summary string, snippets []string, symbol string) (string, time.Duration)
}

// IsErrorText reports whether text is a placeholder rather than an analysis.
func IsErrorText(text string) bool {
	return strings.HasPrefix(text, ErrorPrefix)
}

func apiErrorText(status int) string {
	if status == http.StatusServiceUnavailable {
		return TextModelLoading
	}
	return fmt.Sprintf("Error: Model API Error (%d)", status)
}

// Options configure the chat completion client.
type Options struct {
	APIKey      string
	BaseURL     string
	ModelID     string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// Model calls an OpenAI-compatible chat completion endpoint.
type Model struct {
	opts    Options
	client  *openai.Client
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewModel builds the analyzer. httpClient may be nil.
func NewModel(opts Options, httpClient *http.Client, logger zerolog.Logger, m *metrics.Metrics) *Model {
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 60
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")

	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if httpClient != nil {
		cfg.HTTPClient = httpClient
	}
	if m == nil {
		m = metrics.New()
	}

	return &Model{
		opts:    opts,
		client:  openai.NewClientWithConfig(cfg),
		metrics: m,
		logger:  logger.With().Str("component", "analysis").Str("model", opts.ModelID).Logger(),
	}
}

// Name is the configured model identifier, shown in delivered messages.
func (m *Model) Name() string {
	return m.opts.ModelID
}

// Analyze sends the prompt and returns the trimmed completion.
func (m *Model) Analyze(ctx context.Context, summary string, snippets []string, symbol string) (string, time.Duration) {
	if m.opts.APIKey == "" || m.opts.BaseURL == "" || m.opts.ModelID == "" {
		m.logger.Error().Msg("model endpoint or token not configured")
		m.metrics.AnalysisErrors.Inc()
		return TextNotConfigured, 0
	}

	ctx, cancel := context.WithTimeout(ctx, m.opts.Timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: m.opts.ModelID,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: BuildPrompt(summary, snippets, symbol)},
		},
		MaxTokens:   m.opts.MaxTokens,
		Temperature: m.opts.Temperature,
	}

	m.logger.Info().Str("symbol", symbol).Msg("requesting analysis")
	start := time.Now()
	resp, err := m.client.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)
	m.metrics.InferenceDur.Observe(elapsed.Seconds())

	if err != nil {
		text := describeError(ctx, err)
		m.metrics.AnalysisErrors.Inc()
		m.logger.Error().Err(err).Str("symbol", symbol).Dur("elapsed", elapsed).Msg(text)
		return text, elapsed
	}

	if len(resp.Choices) == 0 {
		m.metrics.AnalysisErrors.Inc()
		m.logger.Warn().Str("symbol", symbol).Msg("completion returned no choices")
		return TextUnexpectedFormat, elapsed
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		m.metrics.AnalysisErrors.Inc()
		m.logger.Warn().Str("symbol", symbol).Msg("completion returned empty content")
		return TextUnexpectedFormat, elapsed
	}

	m.logger.Info().Str("symbol", symbol).Dur("elapsed", elapsed).Msg("analysis complete")
	return text, elapsed
}

func describeError(ctx context.Context, err error) string {
	var (
		apiErr *openai.APIError
		reqErr *openai.RequestError
		netErr net.Error
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(ctx.Err(), context.DeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return TextTimeout
	case errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0:
		return apiErrorText(apiErr.HTTPStatusCode)
	case errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0:
		return apiErrorText(reqErr.HTTPStatusCode)
	default:
		return TextConnect
	}
}

var _ Analyzer = (*Model)(nil)
