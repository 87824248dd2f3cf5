package server

import (
	"encoding/json"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 2 * time.Second

type frame struct {
	messageType int
	data        []byte
}

// fakeConn is an in-memory Conn. Text frames written by the server land in
// written; frames queued in inbound are handed to the receive loop.
type fakeConn struct {
	inbound   chan frame
	written   chan []byte
	hangup    chan struct{}
	hangOnce  sync.Once
	closed    chan struct{}
	closeOnce sync.Once
	closes    atomic.Int32
	readLimit atomic.Int64

	// block, when set, stalls every text write until it is closed.
	block chan struct{}
	// writeErr, when set, fails every text write.
	writeErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		inbound: make(chan frame, 64),
		written: make(chan []byte, 512),
		hangup:  make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case fr := <-f.inbound:
		return fr.messageType, fr.data, nil
	case <-f.hangup:
		return 0, nil, io.EOF
	case <-f.closed:
		return 0, nil, net.ErrClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	if messageType != websocket.TextMessage {
		return nil
	}
	if f.block != nil {
		<-f.block
	}
	if f.writeErr != nil {
		return f.writeErr
	}
	select {
	case <-f.closed:
		return net.ErrClosed
	default:
	}
	f.written <- append([]byte(nil), data...)
	return nil
}

func (f *fakeConn) WriteControl(int, []byte, time.Time) error { return nil }
func (f *fakeConn) SetReadLimit(limit int64)                 { f.readLimit.Store(limit) }
func (f *fakeConn) SetReadDeadline(time.Time) error          { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error         { return nil }
func (f *fakeConn) SetPongHandler(func(string) error)        {}

func (f *fakeConn) Close() error {
	f.closes.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

// send queues an inbound text frame as if the peer had sent it.
func (f *fakeConn) send(text string) {
	f.inbound <- frame{messageType: websocket.TextMessage, data: []byte(text)}
}

// drop simulates the peer vanishing without a close handshake.
func (f *fakeConn) drop() {
	f.hangOnce.Do(func() { close(f.hangup) })
}

func (f *fakeConn) next(t *testing.T) Event {
	t.Helper()
	select {
	case payload := <-f.written:
		var evt Event
		require.NoError(t, json.Unmarshal(payload, &evt))
		return evt
	case <-time.After(waitTimeout):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func (f *fakeConn) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case payload := <-f.written:
		t.Fatalf("unexpected event: %s", payload)
	case <-time.After(wait):
	}
}

func (f *fakeConn) waitClosed(t *testing.T) {
	t.Helper()
	select {
	case <-f.closed:
	case <-time.After(waitTimeout):
		t.Fatal("connection was not closed")
	}
}
