package server_test

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/chatrelay/internal/server"
	"github.com/Tyrowin/chatrelay/internal/store"
	"github.com/Tyrowin/chatrelay/internal/testhelpers"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/websocket"
	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

type relay struct {
	server *httptest.Server
	hub    *server.Hub
}

// newRelay serves the full router over an in-memory badger store.
func newRelay(t *testing.T, configure func(*server.Config)) relay {
	t.Helper()
	req := require.New(t)
	log := logs.GetLoggerFromLevel(slog.LevelDebug)

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLoggingLevel(badger.ERROR))
	req.NoError(err)
	t.Cleanup(func() { _ = db.Close() })

	messages, err := store.NewBadgerStore(db, log)
	req.NoError(err)
	t.Cleanup(func() { _ = messages.Close() })

	cfg := server.NewConfig()
	if configure != nil {
		configure(cfg)
	}
	hub := server.NewHub(*cfg, server.NewRegistry(), messages, log)
	srv := httptest.NewServer(server.SetupRoutes(hub, *cfg, log))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = hub.Shutdown(5 * time.Second) })

	return relay{server: srv, hub: hub}
}

func (r relay) waitOnline(t *testing.T, identities ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return strings.Join(r.hub.Registry().Identities(), ",") == strings.Join(identities, ",")
	}, 2*time.Second, 5*time.Millisecond, "expected online: %v", identities)
}

func TestHealthHandler(t *testing.T) {
	r := newRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.server.URL+"/")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "Chat relay is running!", string(body))
}

func TestRemoteIPHandler(t *testing.T) {
	r := newRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.server.URL+"/test")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", string(body))
}

func TestRemoteIPHandler_Honors_Forwarded_For(t *testing.T) {
	r := newRelay(t, nil)

	request, err := http.NewRequest(http.MethodGet, r.server.URL+"/test", http.NoBody)
	require.NoError(t, err)
	request.Header.Set("X-Forwarded-For", "203.0.113.7")
	resp, err := http.DefaultClient.Do(request)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.7", string(body))
}

func TestChatPageHandler(t *testing.T) {
	r := newRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, r.server.URL+"/chat")
	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html; charset=utf-8")
}

func TestWebSocket_Rejects_Non_GET(t *testing.T) {
	r := newRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodPost, r.server.URL+"/ws/alice")
	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

func TestWebSocket_Rejects_Disallowed_Origin(t *testing.T) {
	r := newRelay(t, nil)

	_, resp, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(r.server.URL, "mallory"), "http://evil.example")
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Zero(t, r.hub.Registry().Len())
}

func TestWebSocket_Allows_Missing_Origin(t *testing.T) {
	r := newRelay(t, nil)

	conn, _, err := testhelpers.ConnectWebSocket(testhelpers.WebSocketURL(r.server.URL, "cli"), "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	r.waitOnline(t, "cli")
}

func TestWebSocket_Chat_Between_Two_Users(t *testing.T) {
	req := require.New(t)
	r := newRelay(t, nil)

	// Given alice and bob are online
	alice := testhelpers.Join(t, r.server, "alice")
	bob := testhelpers.Join(t, r.server, "bob")
	r.waitOnline(t, "alice", "bob")

	// When alice says hi
	testhelpers.SendText(t, alice, "hi")

	// Then both see it with the current online list
	for _, conn := range []*websocket.Conn{alice, bob} {
		evt := testhelpers.ReceiveEvent(t, conn)
		req.Equal("hi", evt.Text)
		req.Equal("alice", evt.User)
		req.Regexp(`^\d{2}:\d{2}$`, evt.Time)
		req.Equal([]string{"alice", "bob"}, evt.UserList)
	}
}

func TestWebSocket_Identity_Is_Unescaped(t *testing.T) {
	r := newRelay(t, nil)

	conn := testhelpers.Join(t, r.server, "John Doe")
	r.waitOnline(t, "John Doe")

	testhelpers.SendText(t, conn, "hello")
	require.Equal(t, "John Doe", testhelpers.ReceiveEvent(t, conn).User)
}

func TestWebSocket_Identity_With_Literal_Percent_Is_Kept_Verbatim(t *testing.T) {
	for _, identity := range []string{"100%", "a%41"} {
		t.Run(identity, func(t *testing.T) {
			r := newRelay(t, nil)

			conn := testhelpers.Join(t, r.server, identity)
			r.waitOnline(t, identity)

			testhelpers.SendText(t, conn, "hello")
			require.Equal(t, identity, testhelpers.ReceiveEvent(t, conn).User)
		})
	}
}

func TestWebSocket_Default_Config_Relays_A_Burst(t *testing.T) {
	req := require.New(t)
	r := newRelay(t, nil)

	alice := testhelpers.Join(t, r.server, "alice")
	bob := testhelpers.Join(t, r.server, "bob")
	r.waitOnline(t, "alice", "bob")

	// When alice sends eight messages back to back
	sent := make([]string, 8)
	for i := range sent {
		sent[i] = fmt.Sprintf("burst %d", i)
		testhelpers.SendText(t, alice, sent[i])
	}

	// Then bob receives all of them, in order
	received := make([]string, 0, len(sent))
	for range sent {
		received = append(received, testhelpers.ReceiveEvent(t, bob).Text)
	}
	req.Equal(sent, received)
}

func TestWebSocket_Default_Config_Relays_Multi_KB_Message(t *testing.T) {
	req := require.New(t)
	r := newRelay(t, nil)

	alice := testhelpers.Join(t, r.server, "alice")
	bob := testhelpers.Join(t, r.server, "bob")
	r.waitOnline(t, "alice", "bob")

	text := strings.Repeat("lorem ipsum ", 512)
	testhelpers.SendText(t, alice, text)

	for _, conn := range []*websocket.Conn{alice, bob} {
		req.Equal(text, testhelpers.ReceiveEvent(t, conn).Text)
	}
	r.waitOnline(t, "alice", "bob")
}

func TestWebSocket_Close_Command(t *testing.T) {
	req := require.New(t)
	r := newRelay(t, nil)

	alice := testhelpers.Join(t, r.server, "alice")
	bob := testhelpers.Join(t, r.server, "bob")
	r.waitOnline(t, "alice", "bob")

	// When alice sends the close command
	testhelpers.SendText(t, alice, "close")

	// Then the server closes her connection and bob sees no chat message
	testhelpers.ExpectClosed(t, alice)
	r.waitOnline(t, "bob")
	testhelpers.ExpectNoEvent(t, bob, 100*time.Millisecond)

	// And the close command was not stored
	carol := testhelpers.Join(t, r.server, "carol")
	testhelpers.SendText(t, carol, "first")
	req.Equal("first", testhelpers.ReceiveEvent(t, carol).Text)
}

func TestWebSocket_History_Replayed_To_Newcomer(t *testing.T) {
	req := require.New(t)
	r := newRelay(t, nil)

	// Given alice already talked
	alice := testhelpers.Join(t, r.server, "alice")
	r.waitOnline(t, "alice")
	testhelpers.SendText(t, alice, "one")
	testhelpers.ReceiveUntil(t, alice, "one")
	testhelpers.SendText(t, alice, "two")
	testhelpers.ReceiveUntil(t, alice, "two")

	// When carol joins
	carol := testhelpers.Join(t, r.server, "carol")

	// Then she gets today's messages in order, and nothing is re-broadcast to alice
	first := testhelpers.ReceiveEvent(t, carol)
	second := testhelpers.ReceiveEvent(t, carol)
	req.Equal([]string{"one", "two"}, []string{first.Text, second.Text})
	req.Equal("alice", first.User)
	req.Contains(second.UserList, "carol")
	testhelpers.ExpectNoEvent(t, alice, 100*time.Millisecond)
}

func TestWebSocket_Reconnect_Replaces_Old_Connection(t *testing.T) {
	r := newRelay(t, nil)

	old := testhelpers.Join(t, r.server, "alice")
	r.waitOnline(t, "alice")

	fresh := testhelpers.Join(t, r.server, "alice")
	testhelpers.ExpectClosed(t, old)
	r.waitOnline(t, "alice")

	testhelpers.SendText(t, fresh, "still me")
	require.Equal(t, "still me", testhelpers.ReceiveEvent(t, fresh).Text)
}

func TestWebSocket_Oversize_Frame_Closes_Only_Sender(t *testing.T) {
	r := newRelay(t, func(cfg *server.Config) { cfg.MaxMessageSize = 16 })

	loud := testhelpers.Join(t, r.server, "loud")
	quiet := testhelpers.Join(t, r.server, "quiet")
	r.waitOnline(t, "loud", "quiet")

	testhelpers.SendText(t, loud, strings.Repeat("x", 100))

	testhelpers.ExpectClosed(t, loud)
	r.waitOnline(t, "quiet")

	testhelpers.SendText(t, quiet, "ok")
	require.Equal(t, []string{"quiet"}, testhelpers.ReceiveEvent(t, quiet).UserList)
}

func TestWebSocket_Hub_Shutdown_Closes_Clients(t *testing.T) {
	r := newRelay(t, nil)

	alice := testhelpers.Join(t, r.server, "alice")
	bob := testhelpers.Join(t, r.server, "bob")
	r.waitOnline(t, "alice", "bob")

	require.NoError(t, r.hub.Shutdown(2*time.Second))

	testhelpers.ExpectClosed(t, alice)
	testhelpers.ExpectClosed(t, bob)
	require.Zero(t, r.hub.Registry().Len())
}
