package validator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type joinInput struct {
	RoomCode    string  `json:"room_code" validate:"required,alphanum,max=16"`
	DisplayName string  `json:"display_name" validate:"required,max=32"`
	CurrentTime float64 `json:"current_time" validate:"gte=0"`
}

func TestValidateOK(t *testing.T) {
	v := NewValidator()
	errs, ok := v.Validate(joinInput{RoomCode: "ABC123", DisplayName: "alice", CurrentTime: 1.5})
	assert.True(t, ok)
	assert.Empty(t, errs)
}

func TestValidateUsesJSONNames(t *testing.T) {
	v := NewValidator()
	errs, ok := v.Validate(joinInput{RoomCode: "no spaces!", CurrentTime: -1})
	require.False(t, ok)
	require.Len(t, errs, 3)

	byField := make(map[string]ValidationError, len(errs))
	for _, e := range errs {
		byField[e.Field] = e
	}
	assert.Equal(t, "ALPHANUM", byField["room_code"].Code)
	assert.Equal(t, "REQUIRED", byField["display_name"].Code)
	assert.Equal(t, "display_name is required", byField["display_name"].Message)
	assert.Equal(t, "GTE", byField["current_time"].Code)
	assert.Contains(t, Join(errs), "room_code must contain only letters and digits")
}

type publishInput struct {
	VideoURL string `json:"video_url" validate:"required,uri"`
}

func TestValidateVideoURL(t *testing.T) {
	v := NewValidator()

	for _, videoURL := range []string{"http://example.com/v.mp4", "/uploads/0b1c.mp4"} {
		_, ok := v.Validate(publishInput{VideoURL: videoURL})
		assert.True(t, ok, videoURL)
	}

	errs, ok := v.Validate(publishInput{VideoURL: "movie.mp4"})
	require.False(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "URI", errs[0].Code)
	assert.Equal(t, "video_url must be a url or an absolute path", errs[0].Message)
}
