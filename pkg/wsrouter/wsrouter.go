package wsrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrUnknownType = errors.New("unknown message type")
	ErrBadPayload  = errors.New("bad payload")
)

type message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestId string          `json:"request_id"`
}

type HandlerFunc[T any] func(ctx context.Context, conn *websocket.Conn, input T) error

type Middleware func(next HandlerFunc[json.RawMessage]) HandlerFunc[json.RawMessage]

type ErrorHandler func(ctx context.Context, conn *websocket.Conn, err error)

type Config struct {
	// Maximum message size allowed from peer.
	ReadLimit int64
	// Time allowed to read the next message or pong from the peer.
	PongWait time.Duration
}

type WSRouter struct {
	routes      map[string]HandlerFunc[json.RawMessage]
	middlewares []Middleware
	onError     ErrorHandler
	cfg         Config
}

func New(cfg Config) *WSRouter {
	return &WSRouter{
		routes:  make(map[string]HandlerFunc[json.RawMessage]),
		onError: func(context.Context, *websocket.Conn, error) {},
		cfg:     cfg,
	}
}

func (r *WSRouter) Use(mw ...Middleware) {
	r.middlewares = append(r.middlewares, mw...)
}

func (r *WSRouter) OnError(h ErrorHandler) {
	r.onError = h
}

// Handle registers a typed handler. The payload is decoded into T before the
// handler runs; a decode failure is reported through the error handler.
func Handle[T any](r *WSRouter, messageType string, handler HandlerFunc[T]) {
	r.routes[messageType] = func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
		var input T
		if len(payload) > 0 && !bytes.Equal(payload, []byte("null")) {
			if err := json.Unmarshal(payload, &input); err != nil {
				return fmt.Errorf("%w: %w", ErrBadPayload, err)
			}
		}

		return handler(ctx, conn, input)
	}
}

func (r *WSRouter) wrap(h HandlerFunc[json.RawMessage]) HandlerFunc[json.RawMessage] {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}

	return h
}

// ServeConn reads messages until the connection fails and routes each of them
// to its handler. Handlers run sequentially on the calling goroutine.
func (r *WSRouter) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	if r.cfg.ReadLimit > 0 {
		conn.SetReadLimit(r.cfg.ReadLimit)
	}
	if r.cfg.PongWait > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(r.cfg.PongWait)); err != nil {
			return err
		}
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(r.cfg.PongWait))
		})
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if r.cfg.PongWait > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(r.cfg.PongWait)); err != nil {
				return err
			}
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			r.onError(ctx, conn, fmt.Errorf("%w: %w", ErrBadPayload, err))
			continue
		}

		msgCtx := context.WithValue(ctx, messageTypeKey, msg.Type)
		msgCtx = context.WithValue(msgCtx, requestIdKey, msg.RequestId)

		handler, exists := r.routes[msg.Type]
		if !exists {
			r.onError(msgCtx, conn, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type))
			continue
		}

		if err := r.wrap(handler)(msgCtx, conn, msg.Payload); err != nil {
			r.onError(msgCtx, conn, err)
		}
	}
}
