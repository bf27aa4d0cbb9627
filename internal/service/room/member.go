package room

import (
	"context"

	"github.com/sharetube/watchroom/pkg/protocol"
	"golang.org/x/exp/slices"
)

func (r *room) hasHost() bool {
	return slices.ContainsFunc(r.members, func(m member) bool { return m.IsHost })
}

func (r *room) memberList() []Member {
	members := make([]Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m.Member)
	}

	return members
}

func (r *room) connIds() []string {
	ids := make([]string, 0, len(r.members))
	for _, m := range r.members {
		ids = append(ids, m.connId)
	}

	return ids
}

func ToProtocolMembers(members []Member) []protocol.Member {
	res := make([]protocol.Member, 0, len(members))
	for _, m := range members {
		res = append(res, protocol.Member{
			DisplayName: m.DisplayName,
			IsHost:      m.IsHost,
		})
	}

	return res
}

type CheckRoomResponse struct {
	Exists  bool
	HasHost bool
}

func (s *service) CheckRoom(ctx context.Context, roomCode string) CheckRoomResponse {
	r, ok := s.acquire(NormalizeCode(roomCode))
	if !ok {
		return CheckRoomResponse{}
	}
	defer r.mu.Unlock()

	return CheckRoomResponse{
		Exists:  true,
		HasHost: r.hasHost(),
	}
}

type JoinRoomParams struct {
	RoomCode    string
	DisplayName string
	IsHost      bool
	ConnId      string
}

type JoinRoomResponse struct {
	RoomCode string
	Members  []Member
	// Snapshot is nil unless a video was already published.
	Snapshot *Snapshot
}

func (s *service) JoinRoom(ctx context.Context, params *JoinRoomParams) (JoinRoomResponse, error) {
	code := NormalizeCode(params.RoomCode)

	r, ok := s.acquire(code)
	if !ok {
		if !params.IsHost {
			s.logger.DebugContext(ctx, "join rejected", "room_code", code, "error", ErrRoomNotFound)
			return JoinRoomResponse{}, ErrRoomNotFound
		}

		var created bool
		r, created = s.create(code)
		if !created {
			// Lost the race to create it; run the checks against the winner.
			return s.JoinRoom(ctx, params)
		}
	}
	defer r.mu.Unlock()

	if err := s.checkJoin(&r.room, params); err != nil {
		s.logger.DebugContext(ctx, "join rejected", "room_code", code, "error", err)
		return JoinRoomResponse{}, err
	}

	r.members = append(r.members, member{
		Member: Member{
			DisplayName: params.DisplayName,
			IsHost:      params.IsHost,
		},
		connId: params.ConnId,
	})

	members := r.memberList()
	s.relay.Broadcast(r.connIds(), protocol.TypeUserJoined, protocol.Members{Members: ToProtocolMembers(members)})

	var snapshot *Snapshot
	if r.videoURL != nil && len(r.members) > 1 {
		snapshot = &Snapshot{
			VideoURL:    *r.videoURL,
			IsPlaying:   r.playback.IsPlaying,
			CurrentTime: r.playback.CurrentTime,
		}

		s.relay.Send(params.ConnId, protocol.TypeVideoUploaded, protocol.VideoUploaded{VideoURL: snapshot.VideoURL})
		s.relay.Send(params.ConnId, protocol.TypeVideoStateChange, protocol.PlaybackState{
			IsPlaying:   snapshot.IsPlaying,
			CurrentTime: snapshot.CurrentTime,
		})
	}

	s.logger.InfoContext(ctx, "member joined", "room_code", code, "display_name", params.DisplayName, "is_host", params.IsHost, "members", len(members))

	return JoinRoomResponse{
		RoomCode: code,
		Members:  members,
		Snapshot: snapshot,
	}, nil
}

// create registers an empty room under code and returns it locked. It reports
// false, with nil room, when another room took the code first.
func (s *service) create(code string) (*lockedRoom, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rooms[code]; exists {
		return nil, false
	}

	r := &lockedRoom{room: room{code: code}}
	// r is not reachable yet, so this cannot block.
	r.mu.Lock()
	s.rooms[code] = r

	return r, true
}

func (s *service) checkJoin(r *room, params *JoinRoomParams) error {
	if !params.IsHost && !r.hasHost() {
		return ErrNoHost
	}

	if params.IsHost && r.hasHost() {
		return ErrHostConflict
	}

	if slices.ContainsFunc(r.members, func(m member) bool { return m.DisplayName == params.DisplayName }) {
		return ErrNameTaken
	}

	if s.membersLimit > 0 && len(r.members) >= s.membersLimit {
		return ErrRoomFull
	}

	return nil
}

type LeaveRoomParams struct {
	RoomCode    string
	DisplayName string
	ConnId      string
}

type LeaveRoomResponse struct {
	Removed bool
	Closed  bool
	Members []Member
}

func (s *service) LeaveRoom(ctx context.Context, params *LeaveRoomParams) LeaveRoomResponse {
	code := NormalizeCode(params.RoomCode)

	r, ok := s.acquire(code)
	if !ok {
		return LeaveRoomResponse{}
	}
	defer r.mu.Unlock()

	idx := slices.IndexFunc(r.members, func(m member) bool {
		return m.DisplayName == params.DisplayName && m.connId == params.ConnId
	})
	if idx == -1 {
		return LeaveRoomResponse{}
	}
	r.members = slices.Delete(r.members, idx, idx+1)

	if len(r.members) == 0 || !r.hasHost() {
		ids := r.connIds()
		s.remove(r)
		s.relay.Disconnect(ids, protocol.TypeRoomClosed, protocol.RoomClosed{Reason: ReasonHostLeft}, "room closed")

		s.logger.InfoContext(ctx, "room closed", "room_code", code, "display_name", params.DisplayName, "evicted", len(ids))
		return LeaveRoomResponse{Removed: true, Closed: true}
	}

	members := r.memberList()
	s.relay.Broadcast(r.connIds(), protocol.TypeUserLeft, protocol.Members{Members: ToProtocolMembers(members)})

	s.logger.InfoContext(ctx, "member left", "room_code", code, "display_name", params.DisplayName, "members", len(members))
	return LeaveRoomResponse{
		Removed: true,
		Members: members,
	}
}
