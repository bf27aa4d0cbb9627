package controller

import "context"

type contextKey int

const (
	sessionCtxKey contextKey = iota
)

func (c controller) getSessionFromCtx(ctx context.Context) *session {
	sess, ok := ctx.Value(sessionCtxKey).(*session)
	if !ok {
		return nil
	}

	return sess
}

func withSession(ctx context.Context, sess *session) context.Context {
	return context.WithValue(ctx, sessionCtxKey, sess)
}
