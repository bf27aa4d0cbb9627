package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"

	"github.com/spf13/afero"
)

var ErrInvalidName = errors.New("invalid file name")

type repo struct {
	fs        afero.Fs
	dir       string
	publicURL string
}

// NewRepo stores videos under dir and builds their URLs from publicURL,
// which must point at wherever Handler is mounted.
func NewRepo(fs afero.Fs, dir, publicURL string) (*repo, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &repo{
		fs:        fs,
		dir:       dir,
		publicURL: publicURL,
	}, nil
}

func (r *repo) filePath(name string) (string, error) {
	if name == "" || name != path.Base(name) || name == "." || name == ".." {
		return "", ErrInvalidName
	}

	return path.Join(r.dir, name), nil
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	return c.r.Read(p)
}

// Save writes src to name. A partial file is removed when the copy fails or
// ctx is cancelled.
func (r *repo) Save(ctx context.Context, name string, src io.Reader) (int64, error) {
	filePath, err := r.filePath(name)
	if err != nil {
		return 0, err
	}

	f, err := r.fs.OpenFile(filePath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(f, ctxReader{ctx: ctx, r: src})
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = r.fs.Remove(filePath)
		return n, fmt.Errorf("failed to write file: %w", err)
	}

	return n, nil
}

func (r *repo) Remove(name string) error {
	filePath, err := r.filePath(name)
	if err != nil {
		return err
	}

	if err := r.fs.Remove(filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove file: %w", err)
	}

	return nil
}

func (r *repo) Exists(name string) bool {
	filePath, err := r.filePath(name)
	if err != nil {
		return false
	}

	ok, err := afero.Exists(r.fs, filePath)
	return err == nil && ok
}

func (r *repo) URL(name string) string {
	return r.publicURL + "/" + url.PathEscape(name)
}

// Handler serves stored files by name.
func (r *repo) Handler() http.Handler {
	return http.FileServer(afero.NewHttpFs(r.fs).Dir(r.dir))
}
