package controller

import (
	"time"

	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/sharetube/watchroom/pkg/wsrouter"
)

const (
	// Time allowed to read the next message or pong from the peer.
	pongWait = 60 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

func (c controller) getWSRouter() *wsrouter.WSRouter {
	mux := wsrouter.New(wsrouter.Config{
		ReadLimit: maxMessageSize,
		PongWait:  pongWait,
	})
	mux.Use(c.wsRequestIdWSMw(), c.loggerWSMw())
	mux.OnError(c.handleWSError)

	wsrouter.Handle(mux, protocol.TypeAlive, c.handleAlive)

	// room
	wsrouter.Handle(mux, protocol.TypeCheckRoom, c.handleCheckRoom)
	wsrouter.Handle(mux, protocol.TypeJoinRoom, c.handleJoinRoom)
	wsrouter.Handle(mux, protocol.TypeLeaveRoom, c.handleLeaveRoom)

	// host
	wsrouter.Handle(mux, protocol.TypePublishVideo, c.handlePublishVideo)
	wsrouter.Handle(mux, protocol.TypeVideoStateChange, c.handleVideoStateChange)

	// upload
	wsrouter.Handle(mux, protocol.TypeStartUpload, c.handleStartUpload)

	return mux
}
