package core

import "context"

// Backend defines the interface for the durable storage of an index.
// Implementations persist price keys, order entries and the root pointer.
type Backend interface {
	// Apply writes every record of the change set as one atomic unit
	Apply(ctx context.Context, cs *ChangeSet) error

	// Load returns everything persisted so far
	Load(ctx context.Context) (*State, error)

	// Close releases the underlying resources
	Close() error
}
