//go:generate go run go.uber.org/mock/mockgen -source=store.go -destination=../mocks/mock_store.go -package=mocks

// Package store persists chat messages and answers the history and retention
// queries of the relay.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrStorage wraps every failure of the underlying persistence medium.
	ErrStorage = errors.New("message storage unavailable")
	// ErrInvalidMessage is returned when author or body break the data model.
	ErrInvalidMessage = errors.New("invalid chat message")
)

// MaxAuthorLength bounds ChatMessage.Author, counted in runes.
const MaxAuthorLength = 50

// ChatMessage is an immutable persisted chat line. ID is assigned by the store
// and CreatedAt is taken from the store clock at persistence time.
type ChatMessage struct {
	ID        uint64    `json:"id"`
	Author    string    `json:"author" validate:"required,max=50"`
	Body      string    `json:"body" validate:"required"`
	CreatedAt time.Time `json:"created_at"`
}

// MessageStore is the append-only, time-ordered history of the room.
type MessageStore interface {
	// Append stores a new message stamped with the current time.
	Append(ctx context.Context, author, body string) (ChatMessage, error)
	// RecentSince returns messages with CreatedAt >= cutoff, oldest first.
	RecentSince(ctx context.Context, cutoff time.Time) ([]ChatMessage, error)
	// PurgeBefore deletes messages with CreatedAt < cutoff and reports how many went.
	PurgeBefore(ctx context.Context, cutoff time.Time) (int, error)
}

var validate = validator.New()

// Validate checks the author and body constraints of a message.
func (m ChatMessage) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	return nil
}

// StartOfDay returns midnight of the calendar day containing t, in t's location.
func StartOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
