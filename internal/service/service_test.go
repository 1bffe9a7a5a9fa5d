package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-alerts/internal/alerting"
	"whale-alerts/internal/analysis"
	"whale-alerts/internal/feed"
	"whale-alerts/internal/storage"
)

type stubSocial struct {
	mu      sync.Mutex
	queries []string
	texts   []string
}

func (s *stubSocial) FetchRecent(_ context.Context, query string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	return s.texts
}

type stubAnalyzer struct {
	text     string
	elapsed  time.Duration
	summary  string
	snippets []string
}

func (a *stubAnalyzer) Analyze(_ context.Context, summary string, snippets []string, _ string) (string, time.Duration) {
	a.summary = summary
	a.snippets = snippets
	return a.text, a.elapsed
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []alerting.Message
	err  error
}

func (n *stubNotifier) Notify(_ context.Context, msg alerting.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

type stubStore struct {
	records []storage.DeliveryRecord
	err     error
}

func (s *stubStore) InsertDelivery(_ context.Context, rec storage.DeliveryRecord) error {
	s.records = append(s.records, rec)
	return s.err
}

func ethAlert() feed.AlertRecord {
	return feed.AlertRecord{
		Symbol:     "ETH",
		Blockchain: "ETHEREUM",
		Amount:     json.Number("120.5"),
		ValueUSD:   json.Number("350000"),
		FromOwner:  "binance",
		ToOwner:    "unknown wallet",
		Timestamp:  json.Number("1717000000"),
	}
}

func TestProcessAlertEndToEnd(t *testing.T) {
	soc := &stubSocial{texts: []string{"ETH whales_moving *now*", strings.Repeat("x", 300)}}
	an := &stubAnalyzer{text: "Bullish pressure likely in the next hours.", elapsed: 1500 * time.Millisecond}
	notifier := &stubNotifier{}
	store := &stubStore{}

	svc := New(Options{ModelName: "llama3.1-8b", SocialEnabled: true, DisplayLength: 150}, soc, an, notifier, store, zerolog.Nop(), nil)

	id := uuid.New()
	res := svc.Process(feed.WithAlertID(context.Background(), id), ethAlert())

	require.True(t, res.Delivered)
	require.Len(t, notifier.sent, 1)
	msg := notifier.sent[0]
	assert.Equal(t, id.String(), msg.AlertID)
	assert.Equal(t, "ETH", msg.Symbol)

	assert.Contains(t, msg.Text, "Real-Time ETH Alert")
	assert.Contains(t, msg.Text, "120.50 ETH")
	assert.Contains(t, msg.Text, "$350,000")
	assert.Contains(t, msg.Text, "transferred from 'binance' to 'unknown wallet'.")
	assert.Contains(t, msg.Text, "Bullish pressure")
	assert.Contains(t, msg.Text, "#ETH")
	assert.Contains(t, msg.Text, `whales\_moving \*now\*`)
	assert.Contains(t, msg.Text, "- _"+strings.Repeat("x", 150)+"..._")
	assert.NotContains(t, msg.Text, strings.Repeat("x", 151))
	assert.Contains(t, msg.Text, "Model Analysis (llama3.1-8b)")
	assert.Contains(t, msg.Text, "Inference: 1.50s | Total Processing:")

	assert.Equal(t, []string{"#ETH"}, soc.queries)
	assert.Equal(t, "120.50 ETH ($350,000 USD) transferred from 'binance' to 'unknown wallet'.", an.summary)
	assert.Len(t, an.snippets, 2)

	require.Len(t, store.records, 1)
	rec := store.records[0]
	assert.Equal(t, id, rec.AlertID)
	assert.True(t, rec.Delivered)
	assert.Nil(t, rec.Error)
	assert.Equal(t, 2, rec.SocialCount)
	assert.True(t, rec.ValueUSD.Valid)
	assert.True(t, rec.ValueUSD.Decimal.Equal(decimal.NewFromInt(350000)))
	assert.Equal(t, "1717000000", rec.FeedTimestamp)
}

func TestProcessAlertSkipsUnknownSymbol(t *testing.T) {
	an := &stubAnalyzer{text: "x"}
	notifier := &stubNotifier{}
	svc := New(Options{}, nil, an, notifier, nil, zerolog.Nop(), nil)

	for _, symbol := range []string{"", "UNKNOWN"} {
		alert := ethAlert()
		alert.Symbol = symbol
		res := svc.Process(context.Background(), alert)
		assert.True(t, res.Skipped)
	}
	assert.Empty(t, notifier.sent)
	assert.Empty(t, an.summary)
}

func TestProcessAlertSocialDisabled(t *testing.T) {
	soc := &stubSocial{texts: []string{"should not appear"}}
	notifier := &stubNotifier{}
	svc := New(Options{ModelName: "m"}, soc, &stubAnalyzer{text: "Mixed."}, notifier, nil, zerolog.Nop(), nil)

	res := svc.Process(context.Background(), ethAlert())
	require.True(t, res.Delivered)
	assert.Empty(t, soc.queries)
	assert.NotContains(t, res.Message, "Social")
}

func TestProcessAlertSocialEmpty(t *testing.T) {
	svc := New(Options{ModelName: "m", SocialEnabled: true}, &stubSocial{}, &stubAnalyzer{text: "Mixed."}, &stubNotifier{}, nil, zerolog.Nop(), nil)

	res := svc.Process(context.Background(), ethAlert())
	assert.Contains(t, res.Message, "_(No recent social context found for #ETH)_")
}

func TestProcessAlertDeliveryFailureIsRecorded(t *testing.T) {
	notifier := &stubNotifier{err: errors.New("telegram 响应码异常: 400")}
	store := &stubStore{err: errors.New("db down")}
	svc := New(Options{}, nil, &stubAnalyzer{text: analysis.TextTimeout}, notifier, store, zerolog.Nop(), nil)

	res := svc.Process(context.Background(), ethAlert())

	assert.False(t, res.Delivered)
	assert.Error(t, res.Err)
	assert.Contains(t, res.Message, analysis.TextTimeout)
	require.Len(t, store.records, 1)
	assert.False(t, store.records[0].Delivered)
	require.NotNil(t, store.records[0].Error)
	assert.Contains(t, *store.records[0].Error, "400")
}

func TestProcessAlertFormattingFallback(t *testing.T) {
	an := &stubAnalyzer{text: "Mixed."}
	store := &stubStore{}
	svc := New(Options{}, nil, an, &stubNotifier{}, store, zerolog.Nop(), nil)

	alert := ethAlert()
	alert.Amount = ""
	res := svc.Process(context.Background(), alert)

	assert.True(t, res.Delivered)
	assert.Equal(t, "Whale movement detected for ETH (details formatting error).", an.summary)
	require.Len(t, store.records, 1)
	assert.False(t, store.records[0].Amount.Valid)
	assert.True(t, store.records[0].ValueUSD.Valid)
}

func TestBuildSummary(t *testing.T) {
	tests := []struct {
		name    string
		amount  json.Number
		value   json.Number
		from    string
		want    string
		wantErr bool
	}{
		{"grouping", "1234567.891", "987654321.4", "binance", "1,234,567.89 ETH ($987,654,321 USD) transferred from 'binance' to 'unknown wallet'.", false},
		{"small", "0.5", "999.5", "binance", "0.50 ETH ($1,000 USD) transferred from 'binance' to 'unknown wallet'.", false},
		{"exponent", "1e3", "2.5E6", "binance", "1,000.00 ETH ($2,500,000 USD) transferred from 'binance' to 'unknown wallet'.", false},
		{"hex owner", "1", "1", "0x52908400098527886e0f7030069857d2e4169ee7", "1.00 ETH ($1 USD) transferred from '0x5290…9EE7' to 'unknown wallet'.", false},
		{"bad amount", "abc", "1", "binance", "Whale movement detected for ETH (details formatting error).", true},
		{"bad value", "1", "", "binance", "Whale movement detected for ETH (details formatting error).", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alert := ethAlert()
			alert.Amount = tt.amount
			alert.ValueUSD = tt.value
			alert.FromOwner = tt.from

			got, err := BuildSummary(alert)
			assert.Equal(t, tt.want, got)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestGroupDecimal(t *testing.T) {
	tests := []struct {
		in     string
		places int32
		want   string
	}{
		{"0", 0, "0"},
		{"999", 0, "999"},
		{"1000", 0, "1,000"},
		{"120.5", 2, "120.50"},
		{"-1234.567", 2, "-1,234.57"},
		{"100000", 0, "100,000"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, groupDecimal(decimal.RequireFromString(tt.in), tt.places), tt.in)
	}
}
