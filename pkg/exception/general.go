package exception

import "errors"

// General errors
var (
	ErrIndexOutOfRange = errors.New("index out of range")
)
