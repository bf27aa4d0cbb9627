package room

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrNoHost       = errors.New("room has no host")
	ErrHostConflict = errors.New("room already has a host")
	ErrNameTaken    = errors.New("display name is already taken in this room")
	ErrRoomFull     = errors.New("room is full")
)

const ReasonHostLeft = "Room was closed because the host left"

type iRelay interface {
	Broadcast(ids []string, messageType string, payload any)
	BroadcastExcept(ids []string, exceptId string, messageType string, payload any)
	Send(id string, messageType string, payload any)
	Disconnect(ids []string, messageType string, payload any, reason string)
}

type lockedRoom struct {
	mu sync.Mutex
	room
}

type service struct {
	// mu guards rooms only. It is never held while waiting for a room lock.
	mu           sync.Mutex
	rooms        map[string]*lockedRoom
	relay        iRelay
	logger       *slog.Logger
	membersLimit int
	now          func() time.Time
}

func NewService(relay iRelay, logger *slog.Logger, membersLimit int) *service {
	return &service{
		rooms:        make(map[string]*lockedRoom),
		relay:        relay,
		logger:       logger,
		membersLimit: membersLimit,
		now:          time.Now,
	}
}

// acquire returns the live room for code with its lock held.
func (s *service) acquire(code string) (*lockedRoom, bool) {
	for {
		s.mu.Lock()
		r, ok := s.rooms[code]
		s.mu.Unlock()
		if !ok {
			return nil, false
		}

		r.mu.Lock()
		if !r.closed {
			return r, true
		}
		r.mu.Unlock()
	}
}

// remove takes r out of the registry. r.mu must be held.
func (s *service) remove(r *lockedRoom) {
	r.closed = true

	s.mu.Lock()
	if s.rooms[r.code] == r {
		delete(s.rooms, r.code)
	}
	s.mu.Unlock()
}

func (s *service) RoomsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rooms)
}
