package core

import "errors"

// Errors
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrDuplicateID     = errors.New("duplicate order id")
	ErrNotFound        = errors.New("order not found")
	ErrCorrupt         = errors.New("corrupt index state")
)

// Sentinel is the reserved "no link" value for both prices and order ids.
const Sentinel uint64 = 0
