package upload

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sharetube/watchroom/pkg/protocol"
)

// Enough for mimetype to recognize every video container it knows.
const sniffLen = 3072

// Transfer is one authorized upload request.
type Transfer struct {
	s        *service
	ctx      context.Context
	cancel   context.CancelFunc
	connId   string
	uploadId string

	total       int64
	uploaded    int64
	lastPercent int
}

func (t *Transfer) ConnId() string {
	return t.connId
}

// Context is cancelled when the owner disconnects or starts another upload.
func (t *Transfer) Context() context.Context {
	return t.ctx
}

// Track wraps the request body so that reading it reports progress to the owner.
func (t *Transfer) Track(body io.Reader) io.Reader {
	return &progressReader{t: t, r: body}
}

type progressReader struct {
	t *Transfer
	r io.Reader
}

func (p *progressReader) Read(b []byte) (int, error) {
	if err := p.t.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := p.r.Read(b)
	if n > 0 {
		p.t.advance(int64(n))
	}

	return n, err
}

func (t *Transfer) advance(n int64) {
	t.uploaded += n
	if t.total <= 0 {
		return
	}

	percent := int(math.Round(float64(t.uploaded) / float64(t.total) * 100))
	if percent > 100 {
		percent = 100
	}
	if percent == t.lastPercent {
		return
	}
	t.lastPercent = percent

	t.s.sender.SendDroppable(t.connId, protocol.TypeUploadProgress, protocol.UploadProgress{
		UploadedBytes:   t.uploaded,
		TotalBytes:      t.total,
		ProgressPercent: percent,
	})
}

type Video struct {
	Name string
	URL  string
}

// Store checks that src holds a video and saves it under a fresh name.
func (t *Transfer) Store(src io.Reader) (Video, error) {
	br := bufio.NewReaderSize(src, sniffLen)
	header, err := br.Peek(sniffLen)
	if err != nil && !errors.Is(err, io.EOF) {
		return Video{}, fmt.Errorf("failed to read upload: %w", err)
	}

	mtype := mimetype.Detect(header)
	if !isVideo(mtype) {
		t.s.logger.DebugContext(t.ctx, "upload is not a video", "mime", mtype.String())
		return Video{}, ErrNotVideo
	}

	name := newId() + mtype.Extension()
	if _, err := t.s.videoRepo.Save(t.ctx, name, br); err != nil {
		return Video{}, err
	}

	return Video{
		Name: name,
		URL:  t.s.videoRepo.URL(name),
	}, nil
}

func isVideo(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}

	return false
}

// Complete tells the owner where the video lives and closes the session. The
// video is deleted when the session was abandoned in the meantime.
func (t *Transfer) Complete(video Video) error {
	if !t.s.end(t) {
		if err := t.s.videoRepo.Remove(video.Name); err != nil {
			t.s.logger.WarnContext(t.ctx, "failed to remove orphaned video", "name", video.Name, "error", err)
		}
		return ErrSessionNotFound
	}

	t.s.sender.Send(t.connId, protocol.TypeUploadComplete, protocol.UploadComplete{VideoURL: video.URL})

	t.s.logger.InfoContext(t.ctx, "upload complete", "upload_id", t.uploadId, "bytes", t.uploaded, "video_url", video.URL)
	return nil
}

// Reject tells the owner why the upload failed and closes the session.
func (t *Transfer) Reject(err error) {
	if !t.s.end(t) && errors.Is(err, context.Canceled) {
		return
	}
	t.s.sender.Send(t.connId, protocol.TypeUploadRejected, protocol.UploadRejected{Message: err.Error()})

	t.s.logger.InfoContext(t.ctx, "upload rejected", "upload_id", t.uploadId, "error", err)
}
