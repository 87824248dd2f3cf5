package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const sequenceBandwidth = 100

var (
	messagePrefix = []byte("msg:")
	sequenceKey   = []byte("seq:chat_message")
)

// BadgerStore is a MessageStore backed by BadgerDB.
//
// Keys are formatted as "msg:{created_at_unix_nano_padded}:{id_padded}" so a
// plain prefix scan walks messages in chronological order, and a time cutoff
// maps to a single seek position for both history reads and purges.
type BadgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log *slog.Logger
	now func() time.Time
}

// Option customizes a BadgerStore.
type Option func(*BadgerStore)

// WithClock overrides the clock used to stamp CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *BadgerStore) {
		s.now = now
	}
}

type diskMessage struct {
	ID     uint64 `json:"id"`
	Author string `json:"author"`
	Body   string `json:"body"`
	At     int64  `json:"at"`
}

// NewBadgerStore wires a store on an opened database. The caller keeps
// ownership of db and must call Close on the store before closing it.
func NewBadgerStore(db *badger.DB, log *slog.Logger, opts ...Option) (*BadgerStore, error) {
	seq, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		return nil, fmt.Errorf("%w: lease message sequence: %w", ErrStorage, err)
	}
	s := &BadgerStore{db: db, seq: seq, log: log, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close releases the leased id range back to the database.
func (s *BadgerStore) Close() error {
	return s.seq.Release()
}

// Append persists a new message and returns the stored record.
func (s *BadgerStore) Append(ctx context.Context, author, body string) (ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return ChatMessage{}, err
	}
	message := ChatMessage{Author: author, Body: body, CreatedAt: s.now()}
	if err := message.Validate(); err != nil {
		return ChatMessage{}, err
	}

	n, err := s.seq.Next()
	if err != nil {
		return ChatMessage{}, fmt.Errorf("%w: next message id: %w", ErrStorage, err)
	}
	message.ID = n + 1

	value, err := json.Marshal(fromChatMessage(message))
	if err != nil {
		return ChatMessage{}, fmt.Errorf("encode message %d: %w", message.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(message), value)
	})
	if err != nil {
		return ChatMessage{}, fmt.Errorf("%w: store message %d: %w", ErrStorage, message.ID, err)
	}
	return message, nil
}

// RecentSince walks the keyspace from the cutoff position to the end.
func (s *BadgerStore) RecentSince(ctx context.Context, cutoff time.Time) ([]ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var messages []ChatMessage
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(cutoffKey(cutoff)); it.ValidForPrefix(messagePrefix); it.Next() {
			var dm diskMessage
			err := it.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &dm)
			})
			if err != nil {
				return err
			}
			messages = append(messages, toChatMessage(dm))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: read messages since %s: %w", ErrStorage, cutoff.Format(time.RFC3339), err)
	}
	return messages, nil
}

// PurgeBefore collects every key sorting before the cutoff position and
// deletes them in one write batch.
func (s *BadgerStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	limit := cutoffKey(cutoff)
	var keys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		options := badger.DefaultIteratorOptions
		options.PrefetchValues = false
		it := txn.NewIterator(options)
		defer it.Close()

		for it.Seek(messagePrefix); it.ValidForPrefix(messagePrefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if bytes.Compare(key, limit) >= 0 {
				break
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: scan messages before %s: %w", ErrStorage, cutoff.Format(time.RFC3339), err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	batch := s.db.NewWriteBatch()
	for _, key := range keys {
		if err := batch.Delete(key); err != nil {
			batch.Cancel()
			return 0, fmt.Errorf("%w: delete message: %w", ErrStorage, err)
		}
	}
	if err := batch.Flush(); err != nil {
		return 0, fmt.Errorf("%w: flush purge batch: %w", ErrStorage, err)
	}
	s.log.Debug("Purged chat messages", "count", len(keys), "before", cutoff)
	return len(keys), nil
}

func messageKey(message ChatMessage) []byte {
	return fmt.Appendf(nil, "msg:%019d:%020d", message.CreatedAt.UnixNano(), message.ID)
}

// cutoffKey sorts before every message stamped at or after t and after every
// message stamped before it.
func cutoffKey(t time.Time) []byte {
	return fmt.Appendf(nil, "msg:%019d:", t.UnixNano())
}

func fromChatMessage(message ChatMessage) diskMessage {
	return diskMessage{
		ID:     message.ID,
		Author: message.Author,
		Body:   message.Body,
		At:     message.CreatedAt.UnixNano(),
	}
}

func toChatMessage(dm diskMessage) ChatMessage {
	return ChatMessage{
		ID:        dm.ID,
		Author:    dm.Author,
		Body:      dm.Body,
		CreatedAt: time.Unix(0, dm.At),
	}
}
