package coordination

import (
	"context"
	"fmt"
)

// ScanKeys iterates every key matching pattern (given without the client's
// prefix, e.g. "queue:*"; ScanKeys prepends the prefix) using cursor-based SCAN,
// never a blocking KEYS call, per the queue's "list busy agents" requirement.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		keys   []string
	)
	fullPattern := c.key(pattern)
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, fullPattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("coordination: scan %q: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
