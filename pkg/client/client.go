// Package client is a Go client for the watch room server.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sharetube/watchroom/pkg/protocol"
)

var ErrClosed = errors.New("connection is closed")

// ServerError is an ERROR reply from the server.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

const (
	eventsBuffer = 256
	readLimit    = 1 << 20
)

type Client struct {
	conn    *websocket.Conn
	baseURL *url.URL
	events  chan protocol.Event
	seq     atomic.Int64
	dropped atomic.Int64

	mu      sync.Mutex
	pending map[string]chan protocol.Event
	done    chan struct{}
	err     error
}

// Dial connects to the server at serverURL, e.g. http://localhost:8080.
func Dial(ctx context.Context, serverURL string) (*Client, error) {
	baseURL, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse server url: %w", err)
	}

	wsURL := *baseURL
	switch baseURL.Scheme {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path += "/api/v1/ws"

	conn, _, err := websocket.Dial(ctx, wsURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c := &Client{
		conn:    conn,
		baseURL: baseURL,
		events:  make(chan protocol.Event, eventsBuffer),
		pending: make(map[string]chan protocol.Event),
		done:    make(chan struct{}),
	}
	go c.readLoop()

	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.events)

	for {
		var ev protocol.Event
		if err := wsjson.Read(context.Background(), c.conn, &ev); err != nil {
			c.mu.Lock()
			c.err = err
			close(c.done)
			c.mu.Unlock()
			return
		}

		if ev.RequestId != "" {
			c.mu.Lock()
			ch, ok := c.pending[ev.RequestId]
			delete(c.pending, ev.RequestId)
			c.mu.Unlock()

			if ok {
				ch <- ev
				continue
			}
		}

		c.deliver(ev)
	}
}

// deliver never blocks the read loop. When nobody drains Events, the oldest
// event is discarded so replies keep flowing and the newest state survives.
func (c *Client) deliver(ev protocol.Event) {
	for {
		select {
		case c.events <- ev:
			return
		default:
		}

		select {
		case <-c.events:
			c.dropped.Add(1)
		default:
		}
	}
}

// Events delivers every server message that is not a reply to a request.
// The channel is closed when the connection ends; see Err.
func (c *Client) Events() <-chan protocol.Event {
	return c.events
}

// Dropped is the number of events discarded because Events was not drained.
func (c *Client) Dropped() int64 {
	return c.dropped.Load()
}

// Done is closed when the connection ends.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.err
}

// CloseStatus is the close code sent by the server, or -1.
func (c *Client) CloseStatus() websocket.StatusCode {
	return websocket.CloseStatus(c.Err())
}

func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "")
}

func (c *Client) write(ctx context.Context, messageType string, payload any, requestId string) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := wsjson.Write(ctx, c.conn, protocol.Input{
		Type:      messageType,
		Payload:   data,
		RequestId: requestId,
	}); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}

	return nil
}

func (c *Client) send(ctx context.Context, messageType string, payload any) error {
	return c.write(ctx, messageType, payload, "")
}

// request sends a message and waits for the reply carrying its request id.
func (c *Client) request(ctx context.Context, messageType string, payload any) (protocol.Event, error) {
	requestId := strconv.FormatInt(c.seq.Add(1), 10)
	ch := make(chan protocol.Event, 1)

	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return protocol.Event{}, ErrClosed
	}
	c.pending[requestId] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, requestId)
		c.mu.Unlock()
	}

	if err := c.write(ctx, messageType, payload, requestId); err != nil {
		cleanup()
		return protocol.Event{}, err
	}

	select {
	case ev := <-ch:
		if ev.Type == protocol.TypeError {
			errPayload, err := Decode[protocol.ErrorPayload](ev)
			if err != nil {
				return protocol.Event{}, err
			}
			return protocol.Event{}, &ServerError{Code: errPayload.Code, Message: errPayload.Message}
		}
		return ev, nil
	case <-c.done:
		cleanup()
		return protocol.Event{}, ErrClosed
	case <-ctx.Done():
		cleanup()
		return protocol.Event{}, ctx.Err()
	}
}

func Decode[T any](ev protocol.Event) (T, error) {
	var v T
	if err := json.Unmarshal(ev.Payload, &v); err != nil {
		return v, fmt.Errorf("failed to decode %s: %w", ev.Type, err)
	}

	return v, nil
}

func requestAs[T any](ctx context.Context, c *Client, messageType string, payload any, replyType string) (T, error) {
	var zero T

	ev, err := c.request(ctx, messageType, payload)
	if err != nil {
		return zero, err
	}

	if ev.Type != replyType {
		return zero, fmt.Errorf("unexpected reply %s to %s", ev.Type, messageType)
	}

	return Decode[T](ev)
}

func (c *Client) CheckRoom(ctx context.Context, roomCode string) (protocol.RoomChecked, error) {
	return requestAs[protocol.RoomChecked](ctx, c, protocol.TypeCheckRoom, protocol.CheckRoomInput{
		RoomCode: roomCode,
	}, protocol.TypeRoomChecked)
}

func (c *Client) JoinRoom(ctx context.Context, roomCode, displayName string, isHost bool) (protocol.RoomJoined, error) {
	return requestAs[protocol.RoomJoined](ctx, c, protocol.TypeJoinRoom, protocol.JoinRoomInput{
		RoomCode:    roomCode,
		DisplayName: displayName,
		IsHost:      isHost,
	}, protocol.TypeRoomJoined)
}

func (c *Client) StartUpload(ctx context.Context) (protocol.UploadStarted, error) {
	return requestAs[protocol.UploadStarted](ctx, c, protocol.TypeStartUpload, protocol.Empty{}, protocol.TypeUploadStarted)
}

// Leave leaves the room. The server closes the connection afterwards.
func (c *Client) Leave(ctx context.Context) error {
	return c.send(ctx, protocol.TypeLeaveRoom, protocol.Empty{})
}

func (c *Client) Alive(ctx context.Context) error {
	return c.send(ctx, protocol.TypeAlive, protocol.Empty{})
}

func (c *Client) PublishVideo(ctx context.Context, videoURL string) error {
	return c.send(ctx, protocol.TypePublishVideo, protocol.PublishVideoInput{VideoURL: videoURL})
}

func (c *Client) SendPlaybackState(ctx context.Context, state protocol.PlaybackState) error {
	return c.send(ctx, protocol.TypeVideoStateChange, state)
}
