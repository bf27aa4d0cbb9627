// Package relay fans server events out to connected peers. Every operation
// only enqueues, so callers may hold their own locks while using it.
package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchroom/pkg/protocol"
	"golang.org/x/exp/maps"
)

type Config struct {
	// Outbound messages buffered per peer.
	QueueSize int
	// Time allowed to write a message to the peer.
	WriteWait time.Duration
	// Send pings to peer with this period. Must be less than the peer's pong wait.
	PingPeriod time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		QueueSize:  256,
		WriteWait:  10 * time.Second,
		PingPeriod: 54 * time.Second,
	}
}

type Relay struct {
	peers  map[string]*peer
	mu     sync.RWMutex
	cfg    *Config
	logger *slog.Logger
}

func New(cfg *Config, logger *slog.Logger) *Relay {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	return &Relay{
		peers:  make(map[string]*peer),
		cfg:    cfg,
		logger: logger,
	}
}

// Register starts the write pump of conn. A previous peer with the same id is
// stopped.
func (r *Relay) Register(id string, conn *websocket.Conn) {
	p := newPeer(id, conn, r.cfg, r.logger)

	r.mu.Lock()
	old, ok := r.peers[id]
	r.peers[id] = p
	r.mu.Unlock()

	if ok {
		old.stop()
	}

	go p.writePump()
}

// Unregister flushes pending messages and closes the connection normally
// unless a close was already queued.
func (r *Relay) Unregister(id string) {
	r.mu.Lock()
	p, ok := r.peers[id]
	delete(r.peers, id)
	r.mu.Unlock()

	if ok {
		p.stop()
	}
}

func (r *Relay) PeersCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.peers)
}

func (r *Relay) PeerIds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Keys(r.peers)
}

func (r *Relay) get(id string) (*peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.peers[id]
	return p, ok
}

func (r *Relay) encode(messageType string, payload any, requestId string) ([]byte, bool) {
	data, err := json.Marshal(protocol.Output{
		Type:      messageType,
		Payload:   payload,
		RequestId: requestId,
	})
	if err != nil {
		r.logger.Error("failed to marshal output", "type", messageType, "error", err)
		return nil, false
	}

	return data, true
}

func (r *Relay) sendReliable(id string, data []byte, messageType string) {
	p, ok := r.get(id)
	if !ok {
		r.logger.Debug("peer not found", "conn_id", id, "type", messageType)
		return
	}

	if !p.enqueue(frame{data: data}) {
		r.logger.Warn("peer queue is full, dropping peer", "conn_id", id, "type", messageType)
		p.drop()
	}
}

// Send is a reliable unicast. A peer that cannot keep up is disconnected.
func (r *Relay) Send(id string, messageType string, payload any) {
	r.Reply(id, messageType, payload, "")
}

// Reply is Send with a request id echoed back to the peer.
func (r *Relay) Reply(id string, messageType string, payload any, requestId string) {
	data, ok := r.encode(messageType, payload, requestId)
	if !ok {
		return
	}

	r.sendReliable(id, data, messageType)
}

// SendDroppable enqueues the message if there is room for it.
func (r *Relay) SendDroppable(id string, messageType string, payload any) bool {
	data, ok := r.encode(messageType, payload, "")
	if !ok {
		return false
	}

	p, ok := r.get(id)
	if !ok {
		return false
	}

	return p.enqueue(frame{data: data})
}

func (r *Relay) Broadcast(ids []string, messageType string, payload any) {
	r.BroadcastExcept(ids, "", messageType, payload)
}

func (r *Relay) BroadcastExcept(ids []string, exceptId string, messageType string, payload any) {
	data, ok := r.encode(messageType, payload, "")
	if !ok {
		return
	}

	for _, id := range ids {
		if id == exceptId {
			continue
		}

		r.sendReliable(id, data, messageType)
	}
}

// Disconnect sends the message to every peer, then closes each connection
// with reason once its queue has drained.
func (r *Relay) Disconnect(ids []string, messageType string, payload any, reason string) {
	data, ok := r.encode(messageType, payload, "")
	if !ok {
		return
	}

	for _, id := range ids {
		p, ok := r.get(id)
		if !ok {
			continue
		}

		if !p.enqueue(frame{data: data}) {
			p.drop()
			continue
		}

		p.closeAfter(protocol.CloseRoomClosed, reason)
	}
}
