package exception

import "errors"

var (
	ErrStreamHandshake = errors.New("stream: handshake failed")
	ErrStreamAuth      = errors.New("stream: authentication failed")
	ErrStreamSubscribe = errors.New("stream: subscribe failed")
	ErrStreamClosed    = errors.New("stream: connection closed")
)
