package client

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sharetube/watchroom/internal/controller"
	"github.com/sharetube/watchroom/internal/relay"
	videofs "github.com/sharetube/watchroom/internal/repository/video/fs"
	"github.com/sharetube/watchroom/internal/service/room"
	"github.com/sharetube/watchroom/internal/service/upload"
	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	videoRepo, err := videofs.NewRepo(afero.NewMemMapFs(), "/uploads", "/uploads")
	require.NoError(t, err)

	r := relay.New(nil, logger)
	srv := httptest.NewServer(controller.NewController(&controller.Params{
		RoomService:   room.NewService(r, logger, 0),
		UploadService: upload.NewService(r, videoRepo, "secret", logger),
		Relay:         r,
		Videos:        videoRepo.Handler(),
		MaxUploadSize: 1 << 20,
		Logger:        logger,
	}).GetMux())
	t.Cleanup(srv.Close)

	return srv
}

func dial(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	c, err := Dial(ctx, srv.URL)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	return c
}

func testCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)

	return ctx
}

// next returns the next event of messageType, skipping others.
func next(t *testing.T, c *Client, messageType string) protocol.Event {
	t.Helper()

	timeout := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-c.Events():
			require.True(t, ok, "connection closed: %v", c.Err())
			if ev.Type == messageType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event", messageType)
		}
	}
}

func TestHostAndParticipant(t *testing.T) {
	srv := newTestServer(t)
	ctx := testCtx(t)
	host := dial(t, srv)
	guest := dial(t, srv)

	checked, err := guest.CheckRoom(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, checked.Exists)

	joined, err := host.JoinRoom(ctx, "abc", "alice", true)
	require.NoError(t, err)
	assert.True(t, joined.Success)

	checked, err = guest.CheckRoom(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, protocol.RoomChecked{Exists: true, HasHost: true}, checked)

	joined, err = guest.JoinRoom(ctx, "abc", "bob", false)
	require.NoError(t, err)
	assert.Len(t, joined.Members, 2)

	require.NoError(t, host.PublishVideo(ctx, "http://example.com/v.mp4"))
	uploaded, err := Decode[protocol.VideoUploaded](next(t, guest, protocol.TypeVideoUploaded))
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/v.mp4", uploaded.VideoURL)

	require.NoError(t, host.SendPlaybackState(ctx, protocol.PlaybackState{IsPlaying: true, CurrentTime: 3}))
	state, err := Decode[protocol.PlaybackState](next(t, guest, protocol.TypeVideoStateChange))
	require.NoError(t, err)
	assert.Equal(t, protocol.PlaybackState{IsPlaying: true, CurrentTime: 3}, state)

	require.NoError(t, host.Leave(ctx))

	closed, err := Decode[protocol.RoomClosed](next(t, guest, protocol.TypeRoomClosed))
	require.NoError(t, err)
	assert.Equal(t, room.ReasonHostLeft, closed.Reason)

	select {
	case <-guest.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("guest was not disconnected")
	}
	assert.Equal(t, websocket.StatusCode(protocol.CloseRoomClosed), guest.CloseStatus())

	_, err = guest.CheckRoom(ctx, "abc")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestServerErrors(t *testing.T) {
	srv := newTestServer(t)
	ctx := testCtx(t)
	c := dial(t, srv)

	_, err := c.JoinRoom(ctx, "nope", "bob", false)
	var serverErr *ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.CodeRoomNotFound, serverErr.Code)

	_, err = c.JoinRoom(ctx, "abc", "", true)
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, protocol.CodeValidationError, serverErr.Code)
}

func TestUpload(t *testing.T) {
	srv := newTestServer(t)
	ctx := testCtx(t)
	host := dial(t, srv)

	_, err := host.JoinRoom(ctx, "abc", "alice", true)
	require.NoError(t, err)

	started, err := host.StartUpload(ctx)
	require.NoError(t, err)

	data := make([]byte, 32*1024)
	copy(data, []byte{0x00, 0x00, 0x00, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0x00, 0x00, 0x02, 0x00, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'})

	videoURL, err := host.Upload(ctx, started.UploadToken, "movie.mp4", bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	assert.Contains(t, videoURL, srv.URL+"/uploads/")

	complete, err := Decode[protocol.UploadComplete](next(t, host, protocol.TypeUploadComplete))
	require.NoError(t, err)
	assert.Contains(t, videoURL, complete.VideoURL)

	resp, err := http.Get(videoURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	_, err = host.Upload(ctx, started.UploadToken, "movie.mp4", bytes.NewReader(data), int64(len(data)))
	assert.Error(t, err, "session is used up")
}

func TestUndrainedEventsDoNotBlockRequests(t *testing.T) {
	srv := newTestServer(t)
	ctx := testCtx(t)
	host := dial(t, srv)
	guest := dial(t, srv)

	_, err := host.JoinRoom(ctx, "abc", "alice", true)
	require.NoError(t, err)
	_, err = guest.JoinRoom(ctx, "abc", "bob", false)
	require.NoError(t, err)

	const states = 300
	for i := 0; i < states; i++ {
		require.NoError(t, host.SendPlaybackState(ctx, protocol.PlaybackState{IsPlaying: true, CurrentTime: float64(i)}))
		time.Sleep(time.Millisecond)
	}
	// Every state has been relayed once the host's own request is answered.
	_, err = host.CheckRoom(ctx, "abc")
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	checked, err := guest.CheckRoom(reqCtx, "abc")
	require.NoError(t, err)
	assert.True(t, checked.Exists)

	// USER_JOINED plus every state, minus what fits in the buffer.
	assert.Equal(t, int64(1+states-eventsBuffer), guest.Dropped())
	require.Len(t, guest.Events(), eventsBuffer)

	var last protocol.Event
	for len(guest.Events()) > 0 {
		last = <-guest.Events()
	}
	state, err := Decode[protocol.PlaybackState](last)
	require.NoError(t, err)
	assert.Equal(t, float64(states-1), state.CurrentTime)
}
