package room

import "time"

type Member struct {
	DisplayName string `json:"display_name"`
	IsHost      bool   `json:"is_host"`
}

type PlaybackState struct {
	IsPlaying   bool      `json:"is_playing"`
	CurrentTime float64   `json:"current_time"`
	UpdatedAt   time.Time `json:"-"`
}

// Snapshot is what a late joiner needs to catch up with the room.
type Snapshot struct {
	VideoURL    string
	IsPlaying   bool
	CurrentTime float64
}

type member struct {
	Member
	connId string
}

type room struct {
	code     string
	members  []member
	videoURL *string
	playback PlaybackState
	// closed is set under mu when the room leaves the registry.
	closed bool
}
