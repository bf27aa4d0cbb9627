// Package protocol defines the JSON messages exchanged over the room socket.
// It is shared by the server and the Go client.
package protocol

import "encoding/json"

// Client to server.
const (
	TypeAlive            = "ALIVE"
	TypeCheckRoom        = "CHECK_ROOM"
	TypeJoinRoom         = "JOIN_ROOM"
	TypeLeaveRoom        = "LEAVE_ROOM"
	TypePublishVideo     = "PUBLISH_VIDEO"
	TypeVideoStateChange = "VIDEO_STATE_CHANGE"
	TypeStartUpload      = "START_UPLOAD"
)

// Server to client.
const (
	TypeRoomChecked    = "ROOM_CHECKED"
	TypeRoomJoined     = "ROOM_JOINED"
	TypeUserJoined     = "USER_JOINED"
	TypeUserLeft       = "USER_LEFT"
	TypeVideoUploaded  = "VIDEO_UPLOADED"
	TypeRoomClosed     = "ROOM_CLOSED"
	TypeUploadStarted  = "UPLOAD_STARTED"
	TypeUploadProgress = "UPLOAD_PROGRESS"
	TypeUploadComplete = "UPLOAD_COMPLETE"
	TypeUploadRejected = "UPLOAD_REJECTED"
	TypeError          = "ERROR"
)

// Error codes carried in ErrorPayload.Code.
const (
	CodeRoomNotFound    = "ROOM_NOT_FOUND"
	CodeNoHost          = "NO_HOST"
	CodeHostConflict    = "HOST_CONFLICT"
	CodeNameTaken       = "NAME_TAKEN"
	CodeRoomFull        = "ROOM_FULL"
	CodeAlreadyJoined   = "ALREADY_JOINED"
	CodeValidationError = "VALIDATION_ERROR"
	CodeRateLimited     = "RATE_LIMITED"
	CodeBadRequest      = "BAD_REQUEST"
	CodeUnknownType     = "UNKNOWN_TYPE"
	CodeInternal        = "INTERNAL_ERROR"
)

// CloseRoomClosed is the websocket close code sent after ROOM_CLOSED.
const CloseRoomClosed = 4000

// Input is a message sent by a client.
type Input struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	RequestId string          `json:"request_id,omitempty"`
}

// Output is a message sent by the server.
type Output struct {
	Type      string `json:"type"`
	Payload   any    `json:"payload"`
	RequestId string `json:"request_id,omitempty"`
}

// Event is Output as seen by a client, with the payload still encoded.
type Event struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	RequestId string          `json:"request_id,omitempty"`
}

type Empty struct{}

type CheckRoomInput struct {
	RoomCode string `json:"room_code" validate:"required,alphanum,max=16"`
}

type JoinRoomInput struct {
	RoomCode    string `json:"room_code" validate:"required,alphanum,max=16"`
	DisplayName string `json:"display_name" validate:"required,max=32"`
	IsHost      bool   `json:"is_host"`
}

type PublishVideoInput struct {
	VideoURL string `json:"video_url" validate:"required,uri"`
}

type PlaybackState struct {
	IsPlaying   bool    `json:"is_playing"`
	CurrentTime float64 `json:"current_time" validate:"gte=0"`
}

type RoomChecked struct {
	Exists  bool `json:"exists"`
	HasHost bool `json:"has_host"`
}

type Member struct {
	DisplayName string `json:"display_name"`
	IsHost      bool   `json:"is_host"`
}

type Members struct {
	Members []Member `json:"members"`
}

type RoomJoined struct {
	Success bool     `json:"success"`
	Members []Member `json:"members"`
}

type VideoUploaded struct {
	VideoURL string `json:"video_url"`
}

type RoomClosed struct {
	Reason string `json:"reason"`
}

type UploadStarted struct {
	UploadToken  string `json:"upload_token"`
	ConnectionId string `json:"connection_id"`
}

type UploadProgress struct {
	UploadedBytes   int64 `json:"uploaded_bytes"`
	TotalBytes      int64 `json:"total_bytes"`
	ProgressPercent int   `json:"progress_percent"`
}

type UploadComplete struct {
	VideoURL string `json:"video_url"`
}

type UploadRejected struct {
	Message string `json:"message"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UploadTokenHeader carries the token issued in UploadStarted.
const UploadTokenHeader = "St-Upload-Token"

// UploadFormField is the multipart field holding the video.
const UploadFormField = "video"
