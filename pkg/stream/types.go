// Package stream maintains the live visual feed from the backend.
//
// The backend pushes one frame per websocket message at its own cadence.
// Consumption is human-paced, so there is no buffering: only the most
// recent frame is retained and a late frame simply supersedes the one
// before it.
package stream

import (
	"encoding/base64"
	"time"
)

// State is the connection state of the frame stream.
type State int

const (
	// StateConnecting means a dial is in progress (including the initial one).
	StateConnecting State = iota
	// StateOpen means the socket is established and frames may arrive.
	StateOpen
	// StateClosed means the socket is down. Unless the stream was torn
	// down, a reconnect is already scheduled.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Frame is a single visual frame from the browser.
type Frame struct {
	Data       []byte
	MIME       string
	ReceivedAt time.Time
}

// DataURI renders the frame as a directly displayable image reference.
func (f *Frame) DataURI() string {
	if f == nil || len(f.Data) == 0 {
		return ""
	}
	return "data:" + f.MIME + ";base64," + base64.StdEncoding.EncodeToString(f.Data)
}
