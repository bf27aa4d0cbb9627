package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ratelimit:"

// Counts a hit and starts the window on the first one.
var hitScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return count
`)

type repo struct {
	rc     *redis.Client
	limit  int64
	window time.Duration
}

func NewRepo(rc *redis.Client, limit int, window time.Duration) *repo {
	return &repo{
		rc:     rc,
		limit:  int64(limit),
		window: window,
	}
}

// Allow records a hit for key and reports whether it is within the limit of
// the current window.
func (r *repo) Allow(ctx context.Context, key string) (bool, error) {
	count, err := hitScript.Run(ctx, r.rc, []string{keyPrefix + key}, r.window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to count hit: %w", err)
	}

	return count <= r.limit, nil
}
