package upload

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"
)

var (
	ErrInvalidToken     = errors.New("invalid upload token")
	ErrSessionNotFound  = errors.New("upload session not found")
	ErrUploadInProgress = errors.New("upload already in progress")
	ErrNotVideo         = errors.New("not a video file")
)

const defaultTokenTTL = time.Hour

type iSender interface {
	Send(id string, messageType string, payload any)
	SendDroppable(id string, messageType string, payload any) bool
}

type iVideoRepo interface {
	Save(ctx context.Context, name string, src io.Reader) (int64, error)
	Remove(name string) error
	URL(name string) string
}

type session struct {
	uploadId string
	active   bool
	cancel   context.CancelFunc
}

type service struct {
	mu        sync.Mutex
	sessions  map[string]*session
	sender    iSender
	videoRepo iVideoRepo
	secret    []byte
	tokenTTL  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewService(sender iSender, videoRepo iVideoRepo, secret string, logger *slog.Logger) *service {
	return &service{
		sessions:  make(map[string]*session),
		sender:    sender,
		videoRepo: videoRepo,
		secret:    []byte(secret),
		tokenTTL:  defaultTokenTTL,
		logger:    logger,
		now:       time.Now,
	}
}

type StartResponse struct {
	UploadToken string
	UploadId    string
}

// Start opens an upload session for the connection, replacing any previous
// one, and returns the token the upload request has to present.
func (s *service) Start(ctx context.Context, connId string) (StartResponse, error) {
	uploadId := newId()

	token, err := s.generateJWT(connId, uploadId)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate upload token", "error", err)
		return StartResponse{}, err
	}

	s.mu.Lock()
	prev := s.sessions[connId]
	s.sessions[connId] = &session{uploadId: uploadId}
	s.mu.Unlock()

	if prev != nil && prev.cancel != nil {
		prev.cancel()
	}

	s.logger.DebugContext(ctx, "upload session started", "upload_id", uploadId)
	return StartResponse{
		UploadToken: token,
		UploadId:    uploadId,
	}, nil
}

// Abandon cancels the connection's upload, if any, and forgets its session.
func (s *service) Abandon(connId string) {
	s.mu.Lock()
	sess, ok := s.sessions[connId]
	delete(s.sessions, connId)
	s.mu.Unlock()

	if ok && sess.cancel != nil {
		sess.cancel()
	}
}

func (s *service) SessionsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.sessions)
}

// Begin authorizes an upload request and marks its session active.
func (s *service) Begin(ctx context.Context, token string, totalBytes int64) (*Transfer, error) {
	claims, err := s.parseJWT(token)
	if err != nil {
		s.logger.DebugContext(ctx, "upload token rejected", "error", err)
		return nil, ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[claims.ConnId]
	if !ok || sess.uploadId != claims.UploadId {
		return nil, ErrSessionNotFound
	}

	if sess.active {
		return nil, ErrUploadInProgress
	}

	transferCtx, cancel := context.WithCancel(ctx)
	sess.active = true
	sess.cancel = cancel

	return &Transfer{
		s:        s,
		ctx:      transferCtx,
		cancel:   cancel,
		connId:   claims.ConnId,
		uploadId: claims.UploadId,
		total:    totalBytes,
	}, nil
}

// end forgets the session of t unless it was already replaced.
func (s *service) end(t *Transfer) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t.cancel()

	sess, ok := s.sessions[t.connId]
	if !ok || sess.uploadId != t.uploadId {
		return false
	}
	delete(s.sessions, t.connId)

	return true
}
