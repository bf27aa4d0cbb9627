package room

import (
	"context"

	"github.com/sharetube/watchroom/pkg/protocol"
)

type PublishVideoParams struct {
	RoomCode string
	VideoURL string
}

// PublishVideo replaces the room video and rewinds playback. It reports false
// when the room does not exist.
func (s *service) PublishVideo(ctx context.Context, params *PublishVideoParams) bool {
	code := NormalizeCode(params.RoomCode)

	r, ok := s.acquire(code)
	if !ok {
		s.logger.DebugContext(ctx, "publish ignored", "room_code", code, "error", ErrRoomNotFound)
		return false
	}
	defer r.mu.Unlock()

	videoURL := params.VideoURL
	r.videoURL = &videoURL
	r.playback = PlaybackState{
		IsPlaying:   false,
		CurrentTime: 0,
		UpdatedAt:   s.now(),
	}

	s.relay.Broadcast(r.connIds(), protocol.TypeVideoUploaded, protocol.VideoUploaded{VideoURL: videoURL})

	s.logger.InfoContext(ctx, "video published", "room_code", code, "video_url", videoURL)
	return true
}

type UpdatePlaybackStateParams struct {
	RoomCode     string
	SenderConnId string
	IsPlaying    bool
	CurrentTime  float64
}

// UpdatePlaybackState stores the state as sent, last write wins, and relays it
// to everyone but the sender.
func (s *service) UpdatePlaybackState(ctx context.Context, params *UpdatePlaybackStateParams) bool {
	code := NormalizeCode(params.RoomCode)

	r, ok := s.acquire(code)
	if !ok {
		s.logger.DebugContext(ctx, "playback state ignored", "room_code", code, "error", ErrRoomNotFound)
		return false
	}
	defer r.mu.Unlock()

	r.playback = PlaybackState{
		IsPlaying:   params.IsPlaying,
		CurrentTime: params.CurrentTime,
		UpdatedAt:   s.now(),
	}

	s.relay.BroadcastExcept(r.connIds(), params.SenderConnId, protocol.TypeVideoStateChange, protocol.PlaybackState{
		IsPlaying:   params.IsPlaying,
		CurrentTime: params.CurrentTime,
	})

	s.logger.DebugContext(ctx, "playback state updated", "room_code", code, "is_playing", params.IsPlaying, "current_time", params.CurrentTime)
	return true
}

type GetRoomResponse struct {
	Code     string
	Members  []Member
	VideoURL *string
	Playback PlaybackState
}

func (s *service) GetRoom(ctx context.Context, roomCode string) (GetRoomResponse, error) {
	r, ok := s.acquire(NormalizeCode(roomCode))
	if !ok {
		return GetRoomResponse{}, ErrRoomNotFound
	}
	defer r.mu.Unlock()

	var videoURL *string
	if r.videoURL != nil {
		v := *r.videoURL
		videoURL = &v
	}

	return GetRoomResponse{
		Code:     r.code,
		Members:  r.memberList(),
		VideoURL: videoURL,
		Playback: r.playback,
	}, nil
}
