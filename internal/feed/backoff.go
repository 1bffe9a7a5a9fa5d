package feed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// FailureClass selects the reconnect delay multiplier.
type FailureClass string

const (
	// FailureRejected covers handshake rejections such as 401 or 429.
	FailureRejected FailureClass = "rejected"
	// FailureRefused is an actively refused TCP connection.
	FailureRefused FailureClass = "refused"
	// FailureGeneric is any other connect error (DNS, network, TLS).
	FailureGeneric FailureClass = "generic"
	// FailureStreamEnded follows a connection that was up and then closed.
	FailureStreamEnded FailureClass = "stream_ended"
)

// Multiplier returns the factor applied to the base reconnect delay.
func (c FailureClass) Multiplier() time.Duration {
	switch c {
	case FailureRejected:
		return 4
	case FailureRefused:
		return 2
	default:
		return 1
	}
}

// DialError annotates a failed connect attempt with its class.
type DialError struct {
	Class  FailureClass
	Status int
	Err    error
}

func (e *DialError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("feed dial %s (status %d): %v", e.Class, e.Status, e.Err)
	}
	return fmt.Sprintf("feed dial %s: %v", e.Class, e.Err)
}

func (e *DialError) Unwrap() error {
	return e.Err
}

func classifyDial(err error, resp *http.Response) *DialError {
	de := &DialError{Class: FailureGeneric, Err: err}
	if resp != nil {
		de.Status = resp.StatusCode
	}

	switch {
	case errors.Is(err, websocket.ErrBadHandshake),
		resp != nil && resp.StatusCode != http.StatusSwitchingProtocols:
		de.Class = FailureRejected
	case errors.Is(err, syscall.ECONNREFUSED):
		de.Class = FailureRefused
	}
	return de
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
