package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestNotifier(baseURL string) *TelegramNotifier {
	return NewTelegramNotifier(TelegramOptions{
		BotToken:  "token",
		ChatID:    "chat",
		APIBase:   baseURL,
		ParseMode: "Markdown",
		Timeout:   time.Second,
	}, nil, testLogger())
}

func TestTelegramNotifierSuccess(t *testing.T) {
	var received map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/bottoken/sendMessage" {
			t.Fatalf("路径应为 /bottoken/sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := newTestNotifier(srv.URL + "/")
	msg := Message{AlertID: "a-1", Symbol: "ETH", Text: "🚨 **Real-Time ETH Alert** 🚨"}

	if err := notifier.Notify(context.Background(), msg); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if received["text"] != msg.Text {
		t.Fatalf("text 不正确: %#v", received["text"])
	}
	if received["parse_mode"] != "Markdown" {
		t.Fatalf("parse_mode 应为 Markdown: %#v", received["parse_mode"])
	}
	if received["disable_web_page_preview"] != true {
		t.Fatalf("应关闭链接预览")
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false, "description": "chat not found"})
	}))
	defer srv.Close()

	err := newTestNotifier(srv.URL).Notify(context.Background(), Message{Text: "x"})
	if err == nil {
		t.Fatal("ok=false 应报错")
	}
	if !strings.Contains(err.Error(), "chat not found") {
		t.Fatalf("错误应包含 description: %v", err)
	}
}

func TestTelegramNotifierHTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"ok": false, "error_code": 400, "description": "Bad Request: can't parse entities",
		})
	}))
	defer srv.Close()

	err := newTestNotifier(srv.URL).Notify(context.Background(), Message{Text: "*broken"})
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("HTTP 400 应报错, 实际 %v", err)
	}
}

func TestTelegramNotifierMissingCredentials(t *testing.T) {
	notifier := NewTelegramNotifier(TelegramOptions{BotToken: "token"}, nil, testLogger())
	if err := notifier.Notify(context.Background(), Message{Text: "x"}); !errors.Is(err, ErrMissingCredentials) {
		t.Fatalf("缺少 chat id 应返回 ErrMissingCredentials, 实际 %v", err)
	}
}

func TestTelegramNotifierHidesToken(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	baseURL := srv.URL
	srv.Close()

	err := NewTelegramNotifier(TelegramOptions{
		BotToken: "secret-token",
		ChatID:   "chat",
		APIBase:  baseURL,
	}, nil, testLogger()).Notify(context.Background(), Message{Text: "x"})
	if err == nil {
		t.Fatal("连接失败应报错")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Fatalf("错误信息不应包含 token: %v", err)
	}
}

func TestEscapeMarkdown(t *testing.T) {
	got := EscapeMarkdown("snake_case *bold* `code` [link]")
	want := "snake\\_case \\*bold\\* \\`code\\` \\[link\\]"
	if got != want {
		t.Fatalf("转义结果不正确: %q", got)
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("héllo wörld", 5); got != "héllo" {
		t.Fatalf("按 rune 截断失败: %q", got)
	}
	if got := TruncateRunes("short", 10); got != "short" {
		t.Fatalf("短字符串不应截断: %q", got)
	}
	if got := TruncateRunes("abc", 0); got != "" {
		t.Fatalf("n=0 应返回空串: %q", got)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
