// Package feed maintains the websocket subscription to the whale alert
// stream and yields normalised alert records.
package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
	"github.com/rs/zerolog"

	"whale-alerts/internal/metrics"
	"whale-alerts/internal/version"
)

var (
	// ErrInvalidURL is returned when the feed URL is empty or not ws/wss.
	ErrInvalidURL = errors.New("feed: invalid websocket url")
	// ErrNoSymbols is returned when the subscription names no symbols.
	ErrNoSymbols = errors.New("feed: no symbols subscribed")
)

const (
	writeWait       = 10 * time.Second
	maxLoggedFrame  = 512
	defaultBaseWait = 300 * time.Second
)

// Dialer opens websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Options configures a Client.
type Options struct {
	URL          string
	APIKey       string
	Subscription Subscription

	// ReconnectDelay is the base wait; failure classes multiply it.
	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	// SubscribeTimeout bounds the wait for the first frame after subscribing.
	SubscribeTimeout time.Duration
	// ReadTimeout is the idle period after which the client pings the server.
	// A timeout never ends the connection. Zero waits indefinitely.
	ReadTimeout time.Duration
	// QueueSize buffers the channel returned by Stream.
	QueueSize int
}

// Client is the reconnecting feed subscriber.
type Client struct {
	opts    Options
	target  string
	symbols symbolSet

	dialer  Dialer
	sleep   Sleeper
	state   *fsm.FSM
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithDialer replaces the websocket dialer.
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithSleeper replaces the backoff wait.
func WithSleeper(s Sleeper) ClientOption {
	return func(c *Client) { c.sleep = s }
}

// WithMetrics records feed activity on m.
func WithMetrics(m *metrics.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

// NewClient validates opts and builds a disconnected client.
func NewClient(opts Options, logger zerolog.Logger, options ...ClientOption) (*Client, error) {
	target, err := buildTarget(opts.URL, opts.APIKey)
	if err != nil {
		return nil, err
	}
	symbols := newSymbolSet(opts.Subscription.Symbols)
	if len(symbols) == 0 {
		return nil, ErrNoSymbols
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultBaseWait
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 15 * time.Second
	}
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}

	c := &Client{
		opts:    opts,
		target:  target,
		symbols: symbols,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		sleep:  sleepContext,
		logger: logger.With().Str("component", "feed").Logger(),
	}
	for _, opt := range options {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	c.state = newConnectionFSM(c.onEnterState)
	c.onEnterState("", StateDisconnected)

	return c, nil
}

func buildTarget(raw, apiKey string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("%w: scheme %q", ErrInvalidURL, u.Scheme)
	}
	if apiKey != "" {
		q := u.Query()
		q.Set("api_key", apiKey)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// State reports the current connection state.
func (c *Client) State() string {
	return c.state.Current()
}

func (c *Client) onEnterState(from, to string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == to {
			v = 1
		}
		c.metrics.FeedState.WithLabelValues(s).Set(v)
	}
	if from != "" {
		c.logger.Debug().Str("from", from).Str("to", to).Msg("feed state changed")
	}
}

func (c *Client) transition(ctx context.Context, event string) {
	if err := c.state.Event(ctx, event); err != nil && ctx.Err() == nil {
		c.logger.Error().Err(err).Str("event", event).Msg("feed state transition failed")
	}
}

// Stream runs the client in the background and returns the alert sequence.
// The channel closes once ctx is cancelled.
func (c *Client) Stream(ctx context.Context) <-chan AlertRecord {
	out := make(chan AlertRecord, c.opts.QueueSize)
	go func() {
		defer close(out)
		if err := c.Run(ctx, out); err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("feed stopped")
		}
	}()
	return out
}

// Run connects, subscribes and forwards matching alerts to out, reconnecting
// after every failure. It only returns when ctx is done.
func (c *Client) Run(ctx context.Context, out chan<- AlertRecord) error {
	c.logger.Info().
		Str("symbols", c.opts.Subscription.DisplaySymbols()).
		Int64("min_value_usd", c.opts.Subscription.MinValueUSD).
		Msg("starting alert feed")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		class := c.connectAndStream(ctx, out)
		if err := ctx.Err(); err != nil {
			return err
		}

		delay := c.opts.ReconnectDelay * class.Multiplier()
		c.metrics.FeedReconnects.WithLabelValues(string(class)).Inc()
		c.logger.Info().Str("class", string(class)).Dur("delay", delay).Msg("reconnecting after delay")

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		c.transition(ctx, eventRetry)
	}
}

func (c *Client) connectAndStream(ctx context.Context, out chan<- AlertRecord) FailureClass {
	c.logger.Info().Msg("connecting to alert feed")

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	conn, resp, err := c.dialer.DialContext(ctx, c.target, header)
	if err != nil {
		dialErr := classifyDial(err, resp)
		evt := c.logger.Error().Err(dialErr).Str("class", string(dialErr.Class))
		if dialErr.Class == FailureRejected {
			evt = evt.Int("status", dialErr.Status)
		}
		evt.Msg("feed connection failed")
		c.transition(ctx, eventConnectFailed)
		return dialErr.Class
	}
	defer conn.Close()

	c.transition(ctx, eventConnectOK)
	c.logger.Info().Msg("connected to alert feed")

	class := c.stream(ctx, conn, out)
	c.transition(ctx, eventStreamEnded)
	return class
}

func (c *Client) stream(ctx context.Context, conn *websocket.Conn, out chan<- AlertRecord) FailureClass {
	if err := conn.WriteJSON(c.opts.Subscription.request()); err != nil {
		c.logger.Error().Err(err).Msg("failed to send subscription")
		return FailureStreamEnded
	}

	frames := make(chan []byte)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go readFrames(conn, frames, readErr, done)

	stop := context.AfterFunc(ctx, func() {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
	defer stop()

	if class, ok := c.awaitAck(ctx, frames, readErr); !ok {
		return class
	}

	for {
		idle, stopIdle := c.idleTimer()
		select {
		case <-ctx.Done():
			stopIdle()
			return FailureStreamEnded
		case err := <-readErr:
			stopIdle()
			c.logConnectionEnd(err)
			return FailureStreamEnded
		case raw := <-frames:
			stopIdle()
			c.handleFrame(ctx, raw, out)
		case <-idle:
			c.logger.Debug().Dur("timeout", c.opts.ReadTimeout).Msg("no frame within read timeout, pinging")
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn().Err(err).Msg("keepalive ping failed")
				return FailureStreamEnded
			}
		}
	}
}

// idleTimer returns a nil channel when no read timeout is configured.
func (c *Client) idleTimer() (<-chan time.Time, func()) {
	if c.opts.ReadTimeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(c.opts.ReadTimeout)
	return t.C, func() { t.Stop() }
}

func (c *Client) awaitAck(ctx context.Context, frames <-chan []byte, readErr <-chan error) (FailureClass, bool) {
	var timeout <-chan time.Time
	if c.opts.SubscribeTimeout > 0 {
		t := time.NewTimer(c.opts.SubscribeTimeout)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case <-ctx.Done():
		return FailureStreamEnded, false
	case err := <-readErr:
		c.logConnectionEnd(err)
		return FailureStreamEnded, false
	case <-timeout:
		c.logger.Warn().Dur("timeout", c.opts.SubscribeTimeout).Msg("no subscription confirmation received, listening anyway")
		return "", true
	case raw := <-frames:
		c.metrics.FeedFrames.Inc()
		ack, err := decodeAck(raw)
		if err != nil {
			c.logger.Warn().Err(err).Str("payload", clip(raw)).Msg("unreadable subscription response")
			return "", true
		}
		if ack.rejected() {
			c.logger.Error().Str("reason", ack.reason()).Msg("subscription rejected")
			return FailureRejected, false
		}
		c.logger.Info().Str("type", ack.Type).Str("payload", clip(raw)).Msg("subscription acknowledged")
		return "", true
	}
}

func (c *Client) handleFrame(ctx context.Context, raw []byte, out chan<- AlertRecord) {
	c.metrics.FeedFrames.Inc()

	rec, ok, err := decodeAlert(raw, c.symbols)
	if err != nil {
		c.metrics.FeedDropped.WithLabelValues("malformed").Inc()
		c.logger.Error().Err(err).Str("payload", clip(raw)).Msg("skipping malformed frame")
		return
	}
	if !ok {
		c.metrics.FeedDropped.WithLabelValues("filtered").Inc()
		c.logger.Debug().Str("payload", clip(raw)).Msg("ignoring frame")
		return
	}

	c.metrics.FeedAlerts.WithLabelValues(rec.Symbol).Inc()
	c.logger.Info().
		Str("symbol", rec.Symbol).
		Str("blockchain", rec.Blockchain).
		Str("value_usd", rec.ValueUSD.String()).
		Msg("alert received")

	select {
	case out <- rec:
	case <-ctx.Done():
	}
}

func (c *Client) logConnectionEnd(err error) {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.logger.Warn().Err(err).Msg("feed connection closed by server")
		return
	}
	c.logger.Error().Err(err).Msg("feed connection lost")
}

// readFrames owns all reads on conn; it exits on the first read error or
// once done is closed.
func readFrames(conn *websocket.Conn, frames chan<- []byte, readErr chan<- error, done <-chan struct{}) {
	for {
		msgType, raw, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		select {
		case frames <- raw:
		case <-done:
			return
		}
	}
}

func clip(raw []byte) string {
	if len(raw) <= maxLoggedFrame {
		return string(raw)
	}
	return string(raw[:maxLoggedFrame]) + "..."
}
