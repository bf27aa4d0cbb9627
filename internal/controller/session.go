package controller

import (
	"context"
	"sync"

	"github.com/sharetube/watchroom/internal/service/room"
)

// session is the per-connection state. It is only touched by the
// connection's read goroutine.
type session struct {
	connId     string
	remoteAddr string
	remoteIP   string

	roomCode    string
	displayName string
	isHost      bool
	joined      bool
	left        bool

	leaveOnce sync.Once
}

func (s *session) setJoined(roomCode, displayName string, isHost bool) {
	s.roomCode = roomCode
	s.displayName = displayName
	s.isHost = isHost
	s.joined = true
}

// leave releases everything the connection holds. It runs at most once.
func (c controller) leave(ctx context.Context, sess *session) {
	sess.leaveOnce.Do(func() {
		sess.left = true
		c.uploadService.Abandon(sess.connId)

		if sess.joined {
			resp := c.roomService.LeaveRoom(ctx, &room.LeaveRoomParams{
				RoomCode:    sess.roomCode,
				DisplayName: sess.displayName,
				ConnId:      sess.connId,
			})
			c.logger.DebugContext(ctx, "session left room", "removed", resp.Removed, "closed", resp.Closed)
		}

		c.relay.Unregister(sess.connId)
	})
}
