package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/sharetube/watchroom/pkg/protocol"
)

// Upload streams size bytes of r as the video of the upload session behind
// token and returns the absolute URL of the stored video.
func (c *Client) Upload(ctx context.Context, token, fileName string, r io.Reader, size int64) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if _, err := mw.CreateFormFile(protocol.UploadFormField, fileName); err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	head := bytes.Clone(buf.Bytes())

	buf.Reset()
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("failed to close form: %w", err)
	}
	tail := bytes.Clone(buf.Bytes())

	body := io.MultiReader(bytes.NewReader(head), io.LimitReader(r, size), bytes.NewReader(tail))

	uploadURL := c.baseURL.JoinPath("/api/v1/upload")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL.String(), body)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.ContentLength = int64(len(head)) + size + int64(len(tail))
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(protocol.UploadTokenHeader, token)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to upload: %w", err)
	}
	defer resp.Body.Close()

	var envelope struct {
		URL   string `json:"url"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return "", fmt.Errorf("bad response %s: %w", resp.Status, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("bad status %s: %s", resp.Status, envelope.Error)
	}

	return c.resolve(envelope.URL)
}

func (c *Client) resolve(ref string) (string, error) {
	u, err := c.baseURL.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %q: %w", ref, err)
	}

	return u.String(), nil
}
