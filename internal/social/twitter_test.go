package social

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRecentDisabledWithoutToken(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	tw := NewTwitter(Options{BaseURL: srv.URL}, srv.Client(), zerolog.Nop(), nil)

	assert.False(t, tw.Enabled())
	assert.Empty(t, tw.FetchRecent(context.Background(), "#ETH"))
	assert.Zero(t, hits.Load())
}

func TestFetchRecentSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/2/tweets/search/recent", r.URL.Path)
		assert.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))

		q := r.URL.Query()
		assert.Equal(t, "(#ETH) -is:retweet lang:en", q.Get("query"))
		assert.Equal(t, "10", q.Get("max_results"))
		assert.Equal(t, "created_at", q.Get("tweet.fields"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{
				{"id": "1", "text": "ETH whales are moving"},
				{"id": "2", "text": ""},
				{"id": "3", "text": "big transfer to binance"},
			},
			"meta": map[string]int{"result_count": 3},
		})
	}))
	defer srv.Close()

	tw := NewTwitter(Options{BearerToken: "token-1", BaseURL: srv.URL + "/", MaxResults: 3}, srv.Client(), zerolog.Nop(), nil)

	texts := tw.FetchRecent(context.Background(), "#ETH")
	assert.Equal(t, []string{"ETH whales are moving", "big transfer to binance"}, texts)
}

func TestFetchRecentErrorsYieldEmpty(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"title":"Unauthorized","detail":"Unauthorized","status":401}`))
		}},
		{"rate limited", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}},
		{"bad json", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":`))
		}},
		{"slow", func(w http.ResponseWriter, r *http.Request) {
			time.Sleep(200 * time.Millisecond)
			_, _ = w.Write([]byte(`{"data":[{"text":"late"}]}`))
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			tw := NewTwitter(Options{
				BearerToken: "token",
				BaseURL:     srv.URL,
				Timeout:     50 * time.Millisecond,
			}, srv.Client(), zerolog.Nop(), nil)

			assert.Empty(t, tw.FetchRecent(context.Background(), "#BTC"))
		})
	}
}

func TestClampResults(t *testing.T) {
	assert.Equal(t, 10, clampResults(0))
	assert.Equal(t, 10, clampResults(5))
	assert.Equal(t, 42, clampResults(42))
	assert.Equal(t, 100, clampResults(500))
}

func TestParseHTTPError(t *testing.T) {
	err := parseHTTPError(400, []byte(`{"errors":[{"message":"Invalid query"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid query")

	err = parseHTTPError(502, nil)
	assert.EqualError(t, err, "twitter api error (502)")
}
