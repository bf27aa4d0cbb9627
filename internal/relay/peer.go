package relay

import (
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type frame struct {
	data      []byte
	close     bool
	closeCode int
	closeText string
}

// peer owns the write side of one connection. Its write pump is the only
// goroutine that writes to conn.
type peer struct {
	id     string
	conn   *websocket.Conn
	queue  chan frame
	quit   chan struct{}
	done   chan struct{}
	cfg    *Config
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func newPeer(id string, conn *websocket.Conn, cfg *Config, logger *slog.Logger) *peer {
	return &peer{
		id:     id,
		conn:   conn,
		queue:  make(chan frame, cfg.QueueSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
		cfg:    cfg,
		logger: logger,
	}
}

// enqueue never blocks. It reports false when the peer is closed or its
// queue is full.
func (p *peer) enqueue(f frame) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- f:
		return true
	default:
		return false
	}
}

// closeAfter queues a close frame behind the pending messages and refuses any
// further message. It falls back to an immediate close when the queue is full.
func (p *peer) closeAfter(code int, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true

	select {
	case p.queue <- frame{close: true, closeCode: code, closeText: text}:
	default:
		p.conn.Close()
	}
}

// stop closes the queue; the pump drains what is left and sends a normal close.
func (p *peer) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.queue)
}

// drop closes the connection without flushing and stops the pump. A peer
// that is already closing is left to finish.
func (p *peer) drop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.closed = true
	close(p.quit)

	p.conn.Close()
}

func (p *peer) writePump() {
	ticker := time.NewTicker(p.cfg.PingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
		close(p.done)
	}()

	for {
		select {
		case <-p.quit:
			return
		case f, ok := <-p.queue:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if f.close {
				p.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(f.closeCode, f.closeText))
				return
			}

			if err := p.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
				p.logger.Debug("failed to write message", "conn_id", p.id, "error", err)
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				p.logger.Debug("failed to write ping", "conn_id", p.id, "error", err)
				return
			}
		}
	}
}
