package app

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"whale-alerts/internal/config"
	"whale-alerts/internal/storage"
)

func deliveryAt(i int, symbol string, value string) storage.DeliveryRecord {
	rec := storage.DeliveryRecord{
		AlertID:    uuid.New(),
		Symbol:     symbol,
		Blockchain: "ETHEREUM",
		Amount:     decimal.NewNullDecimal(decimal.NewFromInt(int64(i + 1))),
		FromOwner:  "binance",
		ToOwner:    "unknown",
		Inference:  time.Duration(i+1) * 100 * time.Millisecond,
		Total:      time.Duration(i+1) * 200 * time.Millisecond,
		Delivered:  true,
		CreatedAt:  time.Date(2026, 3, 1, 0, i, 0, 0, time.UTC),
	}
	if value != "" {
		rec.ValueUSD = decimal.NewNullDecimal(decimal.RequireFromString(value))
	}
	return rec
}

func TestDownsampleDeliveries(t *testing.T) {
	records := make([]storage.DeliveryRecord, 10)
	for i := range records {
		records[i] = deliveryAt(i, "ETH", "1000")
	}

	assert.Len(t, downsampleDeliveries(records, 0), 10)
	assert.Len(t, downsampleDeliveries(records, 20), 10)

	got := downsampleDeliveries(records, 4)
	require.Len(t, got, 4)
	assert.Equal(t, records[0].AlertID, got[0].AlertID)
	assert.Equal(t, records[9].AlertID, got[3].AlertID)

	last := downsampleDeliveries(records, 1)
	require.Len(t, last, 1)
	assert.Equal(t, records[9].AlertID, last[0].AlertID)
}

func TestFilterSymbol(t *testing.T) {
	records := []storage.DeliveryRecord{deliveryAt(0, "ETH", "1"), deliveryAt(1, "BTC", "2"), deliveryAt(2, "ETH", "3")}

	assert.Len(t, filterSymbol(records, ""), 3)
	eth := filterSymbol(records, " eth ")
	require.Len(t, eth, 2)
	assert.Equal(t, records[2].AlertID, eth[1].AlertID)
	assert.Empty(t, filterSymbol(records, "sol"))
	assert.Len(t, records, 3)
}

func TestWriteDeliveriesCSV(t *testing.T) {
	failed := deliveryAt(1, "BTC", "")
	failed.Delivered = false
	msg := "telegram 响应码异常: 400"
	failed.Error = &msg

	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	require.NoError(t, writeDeliveriesCSV(path, []storage.DeliveryRecord{deliveryAt(0, "ETH", "350000"), failed}))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "created_at", rows[0][0])
	assert.Equal(t, "ETH", rows[1][2])
	assert.Equal(t, "350000", rows[1][5])
	assert.Equal(t, "0.100", rows[1][10])
	assert.Equal(t, "true", rows[1][12])
	assert.Equal(t, "", rows[2][5])
	assert.Equal(t, "false", rows[2][12])
	assert.Equal(t, msg, rows[2][13])
}

func TestWriteDeliveriesPNG(t *testing.T) {
	records := []storage.DeliveryRecord{
		deliveryAt(0, "ETH", "350000"),
		deliveryAt(1, "BTC", "1200000"),
		deliveryAt(2, "ETH", "90000"),
		deliveryAt(3, "ETH", ""),
	}

	path := filepath.Join(t.TempDir(), "chart.png")
	require.NoError(t, writeDeliveriesPNG(path, records))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	series := buildDeliverySeries(records)
	require.Len(t, series, 3)
	assert.Equal(t, "BTC value (USD)", series[0].GetName())
	assert.Equal(t, "ETH value (USD)", series[1].GetName())
	assert.Equal(t, "Inference (s)", series[2].GetName())

	assert.Error(t, writeDeliveriesPNG(path, records[:1]))
}

func TestWriteDeliveryTable(t *testing.T) {
	rec := deliveryAt(0, "ETH", "350000")
	msg := "line one\nline two"
	rec.Error = &msg

	var buf bytes.Buffer
	require.NoError(t, writeDeliveryTable(&buf, []storage.DeliveryRecord{rec}))

	out := buf.String()
	assert.Contains(t, out, "Symbol")
	assert.Contains(t, out, "350000")
	assert.Contains(t, out, "binance -> unknown")
	assert.Contains(t, out, "line one line two")
}

type fakeReader struct {
	records []storage.DeliveryRecord
	total   int64
}

func (f *fakeReader) ListRecentDeliveries(_ context.Context, limit int) ([]storage.DeliveryRecord, error) {
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func (f *fakeReader) ListDeliveriesBetween(context.Context, time.Time, time.Time) ([]storage.DeliveryRecord, error) {
	return f.records, nil
}

func (f *fakeReader) CountDeliveries(context.Context) (int64, error) {
	return f.total, nil
}

func TestPrintDeliveries(t *testing.T) {
	reader := &fakeReader{
		records: []storage.DeliveryRecord{deliveryAt(0, "ETH", "1"), deliveryAt(1, "BTC", "2"), deliveryAt(2, "ETH", "3")},
		total:   42,
	}

	var buf bytes.Buffer
	require.NoError(t, printDeliveries(context.Background(), reader, &buf, ShowOptions{Limit: 2}))
	assert.Contains(t, buf.String(), "showing 2 of 42 deliveries")

	reader.records[1].Delivered = false
	buf.Reset()
	require.NoError(t, printDeliveries(context.Background(), reader, &buf, ShowOptions{Limit: 3, FailedOnly: true}))
	assert.Contains(t, buf.String(), "BTC")
	assert.NotContains(t, buf.String(), "ETH")
	assert.Contains(t, buf.String(), "showing 1 of 42 deliveries")

	buf.Reset()
	require.NoError(t, printDeliveries(context.Background(), &fakeReader{}, &buf, ShowOptions{Limit: 5}))
	assert.Equal(t, "no deliveries found\n", buf.String())
}

type fakeLocker struct {
	acquired bool
	err      error
	keys     []int64
	unlocked bool
}

func (f *fakeLocker) TryAdvisoryLock(_ context.Context, key int64) (func(), bool, error) {
	f.keys = append(f.keys, key)
	return func() { f.unlocked = true }, f.acquired, f.err
}

func TestLockInstance(t *testing.T) {
	ctx := context.Background()

	disabled := &fakeLocker{}
	unlock, err := lockInstance(ctx, disabled, 0)
	require.NoError(t, err)
	unlock()
	assert.Empty(t, disabled.keys)

	held := &fakeLocker{acquired: false}
	_, err = lockInstance(ctx, held, 7)
	assert.ErrorIs(t, err, ErrLockHeld)

	broken := &fakeLocker{err: errors.New("conn reset")}
	_, err = lockInstance(ctx, broken, 7)
	assert.ErrorContains(t, err, "acquire advisory lock")

	ok := &fakeLocker{acquired: true}
	unlock, err = lockInstance(ctx, ok, 0x77686c77)
	require.NoError(t, err)
	unlock()
	assert.Equal(t, []int64{0x77686c77}, ok.keys)
	assert.True(t, ok.unlocked)
}

func TestSimulateAlertDeliversThroughWorkflow(t *testing.T) {
	modelSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "cmpl-1",
			"object": "chat.completion",
			"model":  "llama3.1-8b",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": "Mixed pressure expected."},
				"finish_reason": "stop",
			}},
		})
	}))
	defer modelSrv.Close()

	var sent struct {
		ChatID string `json:"chat_id"`
		Text   string `json:"text"`
	}
	telegramSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/bottoken/sendMessage", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&sent))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer telegramSrv.Close()

	cfg := &config.Config{
		Model:    config.ModelConfig{APIKey: "key", BaseURL: modelSrv.URL + "/v1", ModelID: "llama3.1-8b", Timeout: 5 * time.Second},
		Telegram: config.TelegramConfig{BotToken: "token", ChatID: "-100", APIBase: telegramSrv.URL, ParseMode: "Markdown"},
		Social:   config.SocialConfig{DisplayLength: 150},
	}
	a := NewApp(cfg, zerolog.Nop())

	res, err := a.SimulateAlert(context.Background(), SimulateOptions{
		Symbol:     "eth",
		Blockchain: "ethereum",
		Amount:     "1500",
		ValueUSD:   "4500000",
		From:       "binance",
	})
	require.NoError(t, err)

	assert.True(t, res.Delivered)
	assert.Equal(t, "-100", sent.ChatID)
	assert.Contains(t, sent.Text, "Real-Time ETH Alert")
	assert.Contains(t, sent.Text, "1,500.00 ETH ($4,500,000 USD) transferred from 'binance' to 'unknown'.")
	assert.Contains(t, sent.Text, "Mixed pressure expected.")
	assert.False(t, strings.Contains(sent.Text, "Social Buzz"))
}

func TestSimulateAlertRequiresCredentials(t *testing.T) {
	a := NewApp(&config.Config{}, zerolog.Nop())
	_, err := a.SimulateAlert(context.Background(), SimulateOptions{Symbol: "ETH"})
	assert.ErrorContains(t, err, "telegram.bot_token")
}
