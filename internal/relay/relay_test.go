package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

type testServer struct {
	relay *Relay
	srv   *httptest.Server
	ids   chan string
}

// newTestServer registers every accepted connection under the id given in the
// query string and keeps reading until the client goes away.
func newTestServer(t *testing.T, cfg *Config) *testServer {
	t.Helper()

	ts := &testServer{
		relay: New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil))),
		ids:   make(chan string, 16),
	}

	ts.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		id := r.URL.Query().Get("id")
		ts.relay.Register(id, conn)
		ts.ids <- id

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				ts.relay.Unregister(id)
				return
			}
		}
	}))
	t.Cleanup(ts.srv.Close)

	return ts
}

func (ts *testServer) dial(t *testing.T, id string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(ts.srv.URL, "http") + "?id=" + id
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	select {
	case <-ts.ids:
	case <-time.After(time.Second):
		t.Fatal("peer was not registered")
	}

	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) protocol.Event {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev protocol.Event
	require.NoError(t, conn.ReadJSON(&ev))

	return ev
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	ts := newTestServer(t, nil)
	host := ts.dial(t, "host")
	guest := ts.dial(t, "guest")

	ts.relay.BroadcastExcept([]string{"host", "guest"}, "host", protocol.TypeVideoStateChange, protocol.PlaybackState{IsPlaying: true, CurrentTime: 12})
	ts.relay.Broadcast([]string{"host", "guest"}, protocol.TypeVideoUploaded, protocol.VideoUploaded{VideoURL: "http://x/v.mp4"})

	ev := readEvent(t, guest)
	assert.Equal(t, protocol.TypeVideoStateChange, ev.Type)
	var state protocol.PlaybackState
	require.NoError(t, json.Unmarshal(ev.Payload, &state))
	assert.True(t, state.IsPlaying)
	assert.Equal(t, 12.0, state.CurrentTime)

	assert.Equal(t, protocol.TypeVideoUploaded, readEvent(t, guest).Type)
	// The first message the host sees is the broadcast, not the state change.
	assert.Equal(t, protocol.TypeVideoUploaded, readEvent(t, host).Type)
}

func TestMessagesKeepEnqueueOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t, "a")

	for i := 0; i < 50; i++ {
		ts.relay.Send("a", protocol.TypeVideoStateChange, protocol.PlaybackState{CurrentTime: float64(i)})
	}

	for i := 0; i < 50; i++ {
		var state protocol.PlaybackState
		require.NoError(t, json.Unmarshal(readEvent(t, conn).Payload, &state))
		assert.Equal(t, float64(i), state.CurrentTime)
	}
}

func TestReplyEchoesRequestId(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t, "a")

	ts.relay.Reply("a", protocol.TypeRoomChecked, protocol.RoomChecked{Exists: true}, "req-1")

	ev := readEvent(t, conn)
	assert.Equal(t, protocol.TypeRoomChecked, ev.Type)
	assert.Equal(t, "req-1", ev.RequestId)
}

func TestDisconnectSendsNoticeThenCloses(t *testing.T) {
	ts := newTestServer(t, nil)
	conn := ts.dial(t, "a")

	ts.relay.Disconnect([]string{"a"}, protocol.TypeRoomClosed, protocol.RoomClosed{Reason: "bye"}, "room closed")

	ev := readEvent(t, conn)
	assert.Equal(t, protocol.TypeRoomClosed, ev.Type)

	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, protocol.CloseRoomClosed, closeErr.Code)
	assert.Equal(t, "room closed", closeErr.Text)

	// Nothing is delivered after the close was queued.
	ts.relay.Send("a", protocol.TypeUserJoined, protocol.Members{})
}

func TestUnknownPeerIsIgnored(t *testing.T) {
	r := New(nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	r.Send("missing", protocol.TypeUserJoined, protocol.Members{})
	r.Broadcast([]string{"missing"}, protocol.TypeUserJoined, protocol.Members{})
	assert.False(t, r.SendDroppable("missing", protocol.TypeUploadProgress, protocol.UploadProgress{}))
	assert.Zero(t, r.PeersCount())
}

func TestUnregisterRemovesPeer(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.dial(t, "a")
	ts.dial(t, "b")

	assert.ElementsMatch(t, []string{"a", "b"}, ts.relay.PeerIds())

	ts.relay.Unregister("a")
	assert.Equal(t, []string{"b"}, ts.relay.PeerIds())
}

func TestDroppableOnFullQueue(t *testing.T) {
	p := newPeer("a", nil, &Config{QueueSize: 1, WriteWait: time.Second, PingPeriod: time.Minute}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.True(t, p.enqueue(frame{data: []byte("1")}))
	assert.False(t, p.enqueue(frame{data: []byte("2")}))
}

func TestDropStopsWritePump(t *testing.T) {
	ts := newTestServer(t, &Config{QueueSize: 4, WriteWait: time.Second, PingPeriod: time.Hour})
	conn := ts.dial(t, "a")

	p, ok := ts.relay.get("a")
	require.True(t, ok)
	p.drop()

	select {
	case <-p.done:
	case <-time.After(time.Second):
		t.Fatal("write pump is still running")
	}

	assert.False(t, p.enqueue(frame{data: []byte("late")}))

	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}
