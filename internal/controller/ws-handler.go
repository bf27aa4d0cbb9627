package controller

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sharetube/watchroom/internal/service/room"
	"github.com/sharetube/watchroom/pkg/ctxlogger"
	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/sharetube/watchroom/pkg/validator"
	"github.com/sharetube/watchroom/pkg/wsrouter"
)

func (c controller) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		c.logger.InfoContext(r.Context(), "failed to upgrade connection", "error", err)
		return
	}

	sess := &session{
		connId:     uuid.NewString(),
		remoteAddr: r.RemoteAddr,
		remoteIP:   remoteIP(r),
	}

	ctx := ctxlogger.AppendCtx(r.Context(), slog.String("conn_id", sess.connId))
	ctx = withSession(ctx, sess)

	c.relay.Register(sess.connId, conn)
	c.logger.InfoContext(ctx, "connection opened", "remote_addr", sess.remoteAddr)

	err = c.wsmux.ServeConn(ctx, conn)
	c.leave(ctx, sess)

	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, protocol.CloseRoomClosed) {
		c.logger.InfoContext(ctx, "connection closed", "error", err)
	} else {
		c.logger.DebugContext(ctx, "connection closed", "error", err)
	}
}

func (c controller) reply(ctx context.Context, messageType string, payload any) {
	sess := c.getSessionFromCtx(ctx)
	c.relay.Reply(sess.connId, messageType, payload, wsrouter.GetRequestIdFromCtx(ctx))
}

func (c controller) validateInput(input any) error {
	if validationErrors, ok := c.validate.Validate(input); !ok {
		return fmt.Errorf("%w: %s", errValidation, validator.Join(validationErrors))
	}

	return nil
}

// checkRateLimit fails open when the limiter is unavailable.
func (c controller) checkRateLimit(ctx context.Context, sess *session) error {
	if c.rateLimiter == nil {
		return nil
	}

	ok, err := c.rateLimiter.Allow(ctx, sess.remoteIP)
	if err != nil {
		c.logger.WarnContext(ctx, "rate limiter unavailable", "error", err)
		return nil
	}

	if !ok {
		return errRateLimited
	}

	return nil
}

func (c controller) handleAlive(_ context.Context, _ *websocket.Conn, _ protocol.Empty) error {
	return nil
}

func (c controller) handleCheckRoom(ctx context.Context, _ *websocket.Conn, input protocol.CheckRoomInput) error {
	sess := c.getSessionFromCtx(ctx)

	if err := c.checkRateLimit(ctx, sess); err != nil {
		return err
	}

	if err := c.validateInput(input); err != nil {
		return err
	}

	checkRoomResp := c.roomService.CheckRoom(ctx, input.RoomCode)

	c.reply(ctx, protocol.TypeRoomChecked, protocol.RoomChecked{
		Exists:  checkRoomResp.Exists,
		HasHost: checkRoomResp.HasHost,
	})

	return nil
}

func (c controller) handleJoinRoom(ctx context.Context, _ *websocket.Conn, input protocol.JoinRoomInput) error {
	sess := c.getSessionFromCtx(ctx)

	if sess.joined || sess.left {
		return errAlreadyJoined
	}

	if err := c.checkRateLimit(ctx, sess); err != nil {
		return err
	}

	if err := c.validateInput(input); err != nil {
		return err
	}

	joinRoomResp, err := c.roomService.JoinRoom(ctx, &room.JoinRoomParams{
		RoomCode:    input.RoomCode,
		DisplayName: input.DisplayName,
		IsHost:      input.IsHost,
		ConnId:      sess.connId,
	})
	if err != nil {
		return fmt.Errorf("failed to join room: %w", err)
	}

	sess.setJoined(joinRoomResp.RoomCode, input.DisplayName, input.IsHost)

	c.reply(ctx, protocol.TypeRoomJoined, protocol.RoomJoined{
		Success: true,
		Members: room.ToProtocolMembers(joinRoomResp.Members),
	})

	return nil
}

func (c controller) handleLeaveRoom(ctx context.Context, _ *websocket.Conn, _ protocol.Empty) error {
	c.leave(ctx, c.getSessionFromCtx(ctx))

	return nil
}

// hostSession returns the session if it may drive playback.
func (c controller) hostSession(ctx context.Context) (*session, bool) {
	sess := c.getSessionFromCtx(ctx)
	if !sess.joined || sess.left || !sess.isHost {
		c.logger.DebugContext(ctx, "ignoring host-only message", "joined", sess.joined, "left", sess.left)
		return nil, false
	}

	return sess, true
}

func (c controller) handlePublishVideo(ctx context.Context, _ *websocket.Conn, input protocol.PublishVideoInput) error {
	sess, ok := c.hostSession(ctx)
	if !ok {
		return nil
	}

	if err := c.validateInput(input); err != nil {
		return err
	}

	c.roomService.PublishVideo(ctx, &room.PublishVideoParams{
		RoomCode: sess.roomCode,
		VideoURL: input.VideoURL,
	})

	return nil
}

func (c controller) handleVideoStateChange(ctx context.Context, _ *websocket.Conn, input protocol.PlaybackState) error {
	sess, ok := c.hostSession(ctx)
	if !ok {
		return nil
	}

	if err := c.validateInput(input); err != nil {
		return err
	}

	c.roomService.UpdatePlaybackState(ctx, &room.UpdatePlaybackStateParams{
		RoomCode:     sess.roomCode,
		SenderConnId: sess.connId,
		IsPlaying:    input.IsPlaying,
		CurrentTime:  input.CurrentTime,
	})

	return nil
}

func (c controller) handleStartUpload(ctx context.Context, _ *websocket.Conn, _ protocol.Empty) error {
	sess := c.getSessionFromCtx(ctx)
	if sess.left {
		return errLeft
	}

	startResp, err := c.uploadService.Start(ctx, sess.connId)
	if err != nil {
		return fmt.Errorf("failed to start upload: %w", err)
	}

	c.reply(ctx, protocol.TypeUploadStarted, protocol.UploadStarted{
		UploadToken:  startResp.UploadToken,
		ConnectionId: sess.connId,
	})

	return nil
}
