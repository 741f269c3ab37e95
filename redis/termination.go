package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	abortPrefix = "netprobe_abort:"
	abortTTL    = time.Hour
)

// SetTerminationFlag sets the abort flag of the probe with the given id.
// A flag of 1 asks the server to stop the probe; 0 clears the request.
func (c *Client) SetTerminationFlag(ctx context.Context, id string, flag int) error {
	return c.rdb.Set(ctx, abortPrefix+id, flag, abortTTL).Err()
}

// GetTerminationFlag returns the abort flag of the probe with the given id,
// or 0 when none was set.
func (c *Client) GetTerminationFlag(ctx context.Context, id string) (int, error) {
	val, err := c.rdb.Get(ctx, abortPrefix+id).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return val, err
}
