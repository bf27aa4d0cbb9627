package controller

import (
	"context"
	"errors"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchroom/internal/service/room"
	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/sharetube/watchroom/pkg/wsrouter"
)

var (
	errAlreadyJoined = errors.New("connection already joined a room")
	errValidation    = errors.New("validation failed")
	errRateLimited   = errors.New("too many requests, try again later")
	errLeft          = errors.New("connection already left the room")
)

func errorCode(err error) string {
	switch {
	case errors.Is(err, room.ErrRoomNotFound):
		return protocol.CodeRoomNotFound
	case errors.Is(err, room.ErrNoHost):
		return protocol.CodeNoHost
	case errors.Is(err, room.ErrHostConflict):
		return protocol.CodeHostConflict
	case errors.Is(err, room.ErrNameTaken):
		return protocol.CodeNameTaken
	case errors.Is(err, room.ErrRoomFull):
		return protocol.CodeRoomFull
	case errors.Is(err, errAlreadyJoined):
		return protocol.CodeAlreadyJoined
	case errors.Is(err, errValidation):
		return protocol.CodeValidationError
	case errors.Is(err, errRateLimited):
		return protocol.CodeRateLimited
	case errors.Is(err, wsrouter.ErrUnknownType):
		return protocol.CodeUnknownType
	case errors.Is(err, wsrouter.ErrBadPayload), errors.Is(err, errLeft):
		return protocol.CodeBadRequest
	default:
		return protocol.CodeInternal
	}
}

// handleWSError replies with ERROR on the connection the message came from.
func (c controller) handleWSError(ctx context.Context, _ *websocket.Conn, err error) {
	sess := c.getSessionFromCtx(ctx)
	if sess == nil {
		return
	}

	code := errorCode(err)
	message := err.Error()
	if code == protocol.CodeInternal {
		c.logger.ErrorContext(ctx, "failed to handle message", "error", err)
		message = "internal error"
	} else {
		c.logger.InfoContext(ctx, "message rejected", "code", code, "error", err)
	}

	c.relay.Reply(sess.connId, protocol.TypeError, protocol.ErrorPayload{
		Code:    code,
		Message: message,
	}, wsrouter.GetRequestIdFromCtx(ctx))
}
