package coordination

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrCredentialNotFound is returned when no blob is stored under the key.
var ErrCredentialNotFound = errors.New("coordination: credential not found")

// PutCredential stores an opaque byte blob under creds:{agentName}. The
// coordination store never interprets the bytes — encryption, if any, is
// the caller's responsibility.
func (c *Client) PutCredential(ctx context.Context, agentName string, blob []byte) error {
	if err := c.rdb.Set(ctx, c.key("creds", agentName), blob, 0).Err(); err != nil {
		return fmt.Errorf("coordination: put credential for %q: %w", agentName, err)
	}
	return nil
}

// GetCredential fetches the opaque blob stored for an agent.
func (c *Client) GetCredential(ctx context.Context, agentName string) ([]byte, error) {
	blob, err := c.rdb.Get(ctx, c.key("creds", agentName)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCredentialNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("coordination: get credential for %q: %w", agentName, err)
	}
	return blob, nil
}

// DeleteCredential removes a stored blob, e.g. on agent deletion.
func (c *Client) DeleteCredential(ctx context.Context, agentName string) error {
	if err := c.rdb.Del(ctx, c.key("creds", agentName)).Err(); err != nil {
		return fmt.Errorf("coordination: delete credential for %q: %w", agentName, err)
	}
	return nil
}
