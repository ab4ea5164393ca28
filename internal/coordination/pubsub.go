package coordination

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Publish fans a payload out on channel. The coordination client exposes
// this primitive for completeness (spec.md §4.3's required publish/
// subscribe primitive), but the ledger (C6) uses the events/bus abstraction
// for activity broadcast instead — see DESIGN.md for why both exist.
func (c *Client) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := c.rdb.Publish(ctx, c.key("channel", channel), payload).Err(); err != nil {
		return fmt.Errorf("coordination: publish %q: %w", channel, err)
	}
	return nil
}

// Subscribe returns a go-redis PubSub handle for channel. Callers drain
// Channel() themselves and must Close() when done.
func (c *Client) Subscribe(ctx context.Context, channel string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, c.key("channel", channel))
}
