package controller

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/sharetube/watchroom/internal/service/room"
	"github.com/sharetube/watchroom/internal/service/upload"
	"github.com/sharetube/watchroom/pkg/validator"
	"github.com/sharetube/watchroom/pkg/wsrouter"
)

type iRoomService interface {
	CheckRoom(context.Context, string) room.CheckRoomResponse
	JoinRoom(context.Context, *room.JoinRoomParams) (room.JoinRoomResponse, error)
	LeaveRoom(context.Context, *room.LeaveRoomParams) room.LeaveRoomResponse
	PublishVideo(context.Context, *room.PublishVideoParams) bool
	UpdatePlaybackState(context.Context, *room.UpdatePlaybackStateParams) bool
	RoomsCount() int
}

type iUploadService interface {
	Start(ctx context.Context, connId string) (upload.StartResponse, error)
	Begin(ctx context.Context, token string, totalBytes int64) (*upload.Transfer, error)
	Abandon(connId string)
}

type iRelay interface {
	Register(id string, conn *websocket.Conn)
	Unregister(id string)
	Reply(id string, messageType string, payload any, requestId string)
}

type iRateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

type Params struct {
	RoomService   iRoomService
	UploadService iUploadService
	Relay         iRelay
	// RateLimiter may be nil.
	RateLimiter iRateLimiter
	// Videos serves stored uploads under /uploads.
	Videos http.Handler
	// MaxUploadSize is in bytes.
	MaxUploadSize int64
	Logger        *slog.Logger
}

type controller struct {
	roomService   iRoomService
	uploadService iUploadService
	relay         iRelay
	rateLimiter   iRateLimiter
	videos        http.Handler
	maxUploadSize int64
	upgrader      websocket.Upgrader
	validate      *validator.Validator
	wsmux         *wsrouter.WSRouter
	logger        *slog.Logger
}

func NewController(params *Params) *controller {
	logger := params.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	c := &controller{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		roomService:   params.RoomService,
		uploadService: params.UploadService,
		relay:         params.Relay,
		rateLimiter:   params.RateLimiter,
		videos:        params.Videos,
		maxUploadSize: params.MaxUploadSize,
		validate:      validator.NewValidator(),
		logger:        logger,
	}
	c.wsmux = c.getWSRouter()

	return c
}
