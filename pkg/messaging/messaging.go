package messaging

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType names the mutation an IndexEvent reports
type EventType string

const (
	EventInserted EventType = "inserted"
	EventRemoved  EventType = "removed"
	EventRepriced EventType = "repriced"
)

// MessageSender defines an interface for publishing index events.
// This keeps the book package independent of a specific broker client.
type MessageSender interface {
	SendIndexEvent(ctx context.Context, event *IndexEvent) error
	Close() error
}

// IndexEvent describes one committed mutation of a book
type IndexEvent struct {
	EventID   string    `json:"event_id"`
	Book      string    `json:"book"`
	Seq       uint64    `json:"seq"`
	Type      EventType `json:"type"`
	OrderID   uint64    `json:"order_id"`
	Price     uint64    `json:"price"`
	PrevPrice uint64    `json:"prev_price,omitempty"`
	Time      time.Time `json:"time"`
}

// NewIndexEvent stamps a new event with a random id and the current time
func NewIndexEvent(book string, seq uint64, typ EventType, orderID, price, prevPrice uint64) *IndexEvent {
	return &IndexEvent{
		EventID:   uuid.NewString(),
		Book:      book,
		Seq:       seq,
		Type:      typ,
		OrderID:   orderID,
		Price:     price,
		PrevPrice: prevPrice,
		Time:      time.Now().UTC(),
	}
}
