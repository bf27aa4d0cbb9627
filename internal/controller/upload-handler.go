package controller

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sharetube/watchroom/internal/service/upload"
	"github.com/sharetube/watchroom/pkg/protocol"
	"github.com/sharetube/watchroom/pkg/rest"
)

var (
	errNoVideoField   = errors.New("no video file uploaded")
	errUploadTooLarge = errors.New("video is too large")
	errUploadAborted  = errors.New("upload was cancelled")
)

func (c controller) upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	token, err := c.MustHeader(r, protocol.UploadTokenHeader)
	if err != nil {
		rest.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if r.ContentLength <= 0 {
		rest.WriteError(w, http.StatusLengthRequired, "Content-Length header is required")
		return
	}

	transfer, err := c.uploadService.Begin(ctx, token, r.ContentLength)
	if err != nil {
		switch {
		case errors.Is(err, upload.ErrInvalidToken):
			rest.WriteError(w, http.StatusUnauthorized, err.Error())
		case errors.Is(err, upload.ErrSessionNotFound), errors.Is(err, upload.ErrUploadInProgress):
			rest.WriteError(w, http.StatusConflict, err.Error())
		default:
			c.logger.ErrorContext(ctx, "failed to begin upload", "error", err)
			rest.WriteError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	if c.maxUploadSize > 0 && r.ContentLength > c.maxUploadSize {
		c.rejectUpload(w, transfer, http.StatusRequestEntityTooLarge, errUploadTooLarge)
		return
	}

	body := r.Body
	if c.maxUploadSize > 0 {
		body = http.MaxBytesReader(w, body, c.maxUploadSize)
	}
	r.Body = io.NopCloser(transfer.Track(body))

	mr, err := r.MultipartReader()
	if err != nil {
		c.rejectUpload(w, transfer, http.StatusBadRequest, err)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			c.rejectUpload(w, transfer, http.StatusBadRequest, errNoVideoField)
			return
		}
		if err != nil {
			c.rejectUpload(w, transfer, uploadErrorStatus(err, http.StatusBadRequest), err)
			return
		}

		if part.FormName() != protocol.UploadFormField {
			continue
		}

		video, err := transfer.Store(part)
		if err != nil {
			c.rejectUpload(w, transfer, uploadErrorStatus(err, http.StatusInternalServerError), err)
			return
		}

		// Consume the closing boundary so progress reaches the full body.
		if _, err := io.Copy(io.Discard, r.Body); err != nil {
			c.logger.DebugContext(ctx, "failed to drain upload body", "error", err)
		}

		if err := transfer.Complete(video); err != nil {
			rest.WriteError(w, http.StatusConflict, errUploadAborted.Error())
			return
		}

		rest.WriteJSON(w, http.StatusOK, rest.Envelope{"url": video.URL})
		return
	}
}

func uploadErrorStatus(err error, fallback int) int {
	var maxBytesErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxBytesErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, upload.ErrNotVideo):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, context.Canceled):
		return http.StatusConflict
	default:
		return fallback
	}
}

func (c controller) rejectUpload(w http.ResponseWriter, transfer *upload.Transfer, status int, err error) {
	switch status {
	case http.StatusRequestEntityTooLarge:
		err = errUploadTooLarge
	case http.StatusConflict:
		err = fmt.Errorf("%w: %w", errUploadAborted, err)
	}

	transfer.Reject(err)

	message := err.Error()
	if status == http.StatusInternalServerError {
		c.logger.ErrorContext(transfer.Context(), "failed to store upload", "error", err)
		message = "failed to store video"
	}

	rest.WriteError(w, status, message)
}
