package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"whale-alerts/internal/alerting"
	"whale-alerts/internal/analysis"
	"whale-alerts/internal/feed"
	"whale-alerts/internal/metrics"
	"whale-alerts/internal/social"
	"whale-alerts/internal/storage"
)

const unknownSymbol = "UNKNOWN"

// Options tune message composition.
type Options struct {
	ModelName     string
	SocialEnabled bool
	DisplayLength int
}

// Result describes one finished workflow run.
type Result struct {
	AlertID   uuid.UUID
	Skipped   bool
	Summary   string
	Snippets  []string
	Analysis  string
	Inference time.Duration
	Total     time.Duration
	Message   string
	Delivered bool
	Err       error
}

// Service runs the enrichment workflow for single alerts.
type Service struct {
	opts     Options
	social   social.Fetcher
	analyzer analysis.Analyzer
	notifier alerting.Notifier
	store    storage.DeliveryStore
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	now      func() time.Time
}

// New wires the workflow. store may be nil to disable the audit log.
func New(opts Options, fetcher social.Fetcher, analyzer analysis.Analyzer, notifier alerting.Notifier, store storage.DeliveryStore, logger zerolog.Logger, m *metrics.Metrics) *Service {
	if opts.DisplayLength <= 0 {
		opts.DisplayLength = 150
	}
	if m == nil {
		m = metrics.New()
	}
	return &Service{
		opts:     opts,
		social:   fetcher,
		analyzer: analyzer,
		notifier: notifier,
		store:    store,
		metrics:  m,
		logger:   logger.With().Str("component", "service").Logger(),
		now:      time.Now,
	}
}

// ProcessAlert runs the workflow; every failure ends up in logs, metrics and
// the delivered text.
func (s *Service) ProcessAlert(ctx context.Context, alert feed.AlertRecord) {
	s.Process(ctx, alert)
}

// Process runs summary, social context, analysis, composition and delivery
// for one alert and reports what happened.
func (s *Service) Process(ctx context.Context, alert feed.AlertRecord) Result {
	start := s.now()

	alertID, ok := feed.AlertIDFrom(ctx)
	if !ok {
		alertID = uuid.New()
	}
	logger := s.logger.With().Str("alert_id", alertID.String()).Str("symbol", alert.Symbol).Logger()
	res := Result{AlertID: alertID}

	if alert.Symbol == "" || alert.Symbol == unknownSymbol {
		logger.Warn().Str("blockchain", alert.Blockchain).Msg("skipping alert without symbol")
		res.Skipped = true
		return res
	}
	logger.Info().Msg("processing alert")

	summary, err := BuildSummary(alert)
	if err != nil {
		logger.Error().Err(err).Msg("could not format whale summary")
	}
	res.Summary = summary

	if s.opts.SocialEnabled && s.social != nil {
		query := socialQuery(alert.Symbol)
		logger.Info().Str("query", query).Msg("fetching social context")
		res.Snippets = s.social.FetchRecent(ctx, query)
	} else {
		logger.Debug().Msg("social context disabled")
	}

	res.Analysis, res.Inference = s.analyzer.Analyze(ctx, summary, res.Snippets, alert.Symbol)
	if analysis.IsErrorText(res.Analysis) {
		logger.Warn().Str("analysis", res.Analysis).Msg("analysis unavailable")
	}

	res.Total = s.now().Sub(start)
	res.Message = ComposeMessage(MessageParts{
		Symbol:        alert.Symbol,
		Summary:       summary,
		SocialEnabled: s.opts.SocialEnabled,
		Snippets:      res.Snippets,
		DisplayLength: s.opts.DisplayLength,
		ModelName:     s.opts.ModelName,
		Analysis:      res.Analysis,
		Inference:     res.Inference,
		Total:         res.Total,
	})

	res.Err = s.notifier.Notify(ctx, alerting.Message{AlertID: alertID.String(), Symbol: alert.Symbol, Text: res.Message})
	res.Delivered = res.Err == nil
	if res.Delivered {
		s.metrics.Deliveries.WithLabelValues("ok").Inc()
	} else {
		s.metrics.Deliveries.WithLabelValues("failed").Inc()
		logger.Error().Err(res.Err).Msg("failed to deliver alert")
	}
	s.metrics.WorkflowDur.Observe(res.Total.Seconds())

	s.audit(ctx, alert, res, logger)

	logger.Info().
		Bool("delivered", res.Delivered).
		Dur("inference", res.Inference).
		Dur("total", res.Total).
		Msg("alert processing finished")
	return res
}

func (s *Service) audit(ctx context.Context, alert feed.AlertRecord, res Result, logger zerolog.Logger) {
	if s.store == nil {
		return
	}

	rec := storage.DeliveryRecord{
		AlertID:       res.AlertID,
		Symbol:        alert.Symbol,
		Blockchain:    alert.Blockchain,
		Amount:        nullDecimal(alert.AmountDecimal()),
		ValueUSD:      nullDecimal(alert.ValueUSDDecimal()),
		FromOwner:     alert.FromOwner,
		ToOwner:       alert.ToOwner,
		FeedTimestamp: alert.TimestampString(),
		Summary:       res.Summary,
		SocialCount:   len(res.Snippets),
		Analysis:      res.Analysis,
		Inference:     res.Inference,
		Total:         res.Total,
		Delivered:     res.Delivered,
	}
	if res.Err != nil {
		msg := res.Err.Error()
		rec.Error = &msg
	}

	if err := s.store.InsertDelivery(ctx, rec); err != nil {
		logger.Error().Err(err).Msg("failed to record delivery")
	}
}

func nullDecimal(d decimal.Decimal, err error) decimal.NullDecimal {
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}
