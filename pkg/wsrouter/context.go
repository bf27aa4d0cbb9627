package wsrouter

import "context"

type ctxKey string

const (
	messageTypeKey ctxKey = "message_type"
	requestIdKey   ctxKey = "request_id"
)

func GetMessageTypeFromCtx(ctx context.Context) string {
	messageType, ok := ctx.Value(messageTypeKey).(string)
	if !ok {
		return ""
	}

	return messageType
}

func GetRequestIdFromCtx(ctx context.Context) string {
	requestId, ok := ctx.Value(requestIdKey).(string)
	if !ok {
		return ""
	}

	return requestId
}
