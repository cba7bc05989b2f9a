package memory

import "errors"

// ErrClosed is returned by a backend used after Close
var ErrClosed = errors.New("memory backend closed")
