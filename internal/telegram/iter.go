package telegram

import (
	"context"
	"time"
)

// IterOptions controls history iteration.
type IterOptions struct {
	// Reverse yields oldest-to-newest when true.
	Reverse bool
	// OffsetDate bounds the iteration start; zero means the chat edge.
	OffsetDate time.Time
	// Limit caps the number of yielded messages; 0 means unbounded.
	Limit int
}

// Iterator is a lazy message cursor. Usage:
//
//	iter := client.IterMessages(chatID, opts)
//	for iter.Next(ctx) {
//		msg := iter.Value()
//		...
//	}
//	if err := iter.Err(); err != nil { ... }
type Iterator interface {
	Next(ctx context.Context) bool
	Value() *Message
	Err() error
}
