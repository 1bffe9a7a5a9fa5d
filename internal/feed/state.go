package feed

import (
	"context"

	"github.com/looplab/fsm"
)

// Connection states of the feed client.
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
	StateBackoff      = "backoff"
)

const (
	eventConnectOK     = "connect_ok"
	eventConnectFailed = "connect_failed"
	eventStreamEnded   = "stream_ended"
	eventRetry         = "retry"
)

var connectionStates = []string{StateDisconnected, StateConnected, StateBackoff}

// newConnectionFSM builds the outer reconnect machine. There is no terminal
// state; only context cancellation stops the loop driving it.
func newConnectionFSM(onEnter func(from, to string)) *fsm.FSM {
	return fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: eventConnectOK, Src: []string{StateDisconnected}, Dst: StateConnected},
			{Name: eventConnectFailed, Src: []string{StateDisconnected}, Dst: StateBackoff},
			{Name: eventStreamEnded, Src: []string{StateConnected}, Dst: StateBackoff},
			{Name: eventRetry, Src: []string{StateBackoff}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				onEnter(e.Src, e.Dst)
			},
		},
	)
}
