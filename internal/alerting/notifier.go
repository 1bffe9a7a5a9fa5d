package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrMissingCredentials 表示未配置 bot token 或 chat id。
var ErrMissingCredentials = errors.New("alerting: telegram bot token or chat id missing")

// Message 是一条待推送的告警。
type Message struct {
	AlertID string
	Symbol  string
	Text    string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// TelegramOptions parameterise the Telegram sink.
type TelegramOptions struct {
	BotToken      string
	ChatID        string
	APIBase       string
	ParseMode     string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	opts    TelegramOptions
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。client 可与其他组件共享。
func NewTelegramNotifier(opts TelegramOptions, client *http.Client, logger zerolog.Logger) *TelegramNotifier {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.APIBase == "" {
		opts.APIBase = "https://api.telegram.org"
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if client == nil {
		client = &http.Client{}
	}

	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}

	return &TelegramNotifier{
		opts:    opts,
		baseURL: strings.TrimRight(opts.APIBase, "/"),
		client:  client,
		limiter: rate.NewLimiter(limit, opts.Burst),
		logger:  logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Configured reports whether both token and chat id are set.
func (n *TelegramNotifier) Configured() bool {
	return n.opts.BotToken != "" && n.opts.ChatID != ""
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type sendMessageResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code"`
	Description string `json:"description"`
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, msg Message) error {
	if !n.Configured() {
		return ErrMissingCredentials
	}
	if err := n.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram rate limiter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, n.opts.Timeout)
	defer cancel()

	body, err := json.Marshal(sendMessageRequest{
		ChatID:                n.opts.ChatID,
		Text:                  msg.Text,
		ParseMode:             n.opts.ParseMode,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.opts.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		// the URL carries the bot token; keep it out of the error text
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var result sendMessageResponse
	decodeErr := json.Unmarshal(payload, &result)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if decodeErr == nil && result.Description != "" {
			return fmt.Errorf("telegram 响应码异常: %d: %s", resp.StatusCode, result.Description)
		}
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}
	if decodeErr == nil && !result.OK {
		return fmt.Errorf("telegram 返回 ok=false: %s", result.Description)
	}

	n.logger.Info().
		Str("alert_id", msg.AlertID).
		Str("symbol", msg.Symbol).
		Str("chat_id", n.opts.ChatID).
		Msg("告警已发送 (Telegram)")
	return nil
}

var _ Notifier = (*TelegramNotifier)(nil)
