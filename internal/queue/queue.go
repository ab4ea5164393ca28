// Package queue is the Execution Queue (C5): it guarantees at most one
// stateful, conversation-carrying execution per agent at a time, while
// stateless parallel tasks bypass it entirely. Admission and release are
// each a single atomic operation against the coordination store (C3) —
// never a read-then-write pair — closing the release-after-takeover race
// a naive "check then delete" would reopen.
//
// The teacher's internal/orchestrator/queue is an in-process, heap-based
// priority queue solving a different problem (single-process task
// ordering); it does not serve cross-replica mutual exclusion, so this
// package does not extend it. Its sentinel-error and List()-for-status-
// endpoint conventions are carried over below.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kandev/orchestrator/internal/coordination"
	"github.com/kandev/orchestrator/internal/identity"
)

// DefaultTTL bounds a single stateful execution; a holder that dies without
// releasing frees the slot automatically once this elapses.
const DefaultTTL = 15 * time.Minute

// ErrQueueBusy is returned by Submit when the agent's slot is already held.
var ErrQueueBusy = errors.New("queue: agent is busy")

// ErrNotHolder is returned by Complete when volatileID no longer owns the
// slot — it already expired and was reclaimed, or never held it.
var ErrNotHolder = errors.New("queue: caller is not the current slot holder")

// cell is the JSON value stored under queue:{agent}.
type cell struct {
	VolatileID string    `json:"volatile_id"`
	Holder     string    `json:"holder"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// AdmitResult is Submit's outcome, mirroring the {admitted, volatile_id} |
// {busy, holder, retry_after} contract.
type AdmitResult struct {
	Admitted   bool
	VolatileID string
	Holder     string
	RetryAfter time.Duration
}

// conditionalReleaseScript deletes queue:{agent} only if its stored
// volatile_id still matches the caller's, the same pattern the
// coordination package uses for lock release but keyed on a
// caller-supplied id rather than a random token, since the volatile id is
// itself the durable proof of admission handed back to the submitter.
var conditionalReleaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v == false then
	return 0
end
local data = cjson.decode(v)
if data["volatile_id"] == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// Queue is the per-agent mutual-exclusion facade over the coordination store.
type Queue struct {
	coord *coordination.Client
}

// New wraps a coordination client.
func New(coord *coordination.Client) *Queue {
	return &Queue{coord: coord}
}

func slotKey(agentName string) string {
	return "queue:" + agentName
}

// Submit attempts admission for a sequential chat execution. On success the
// returned AdmitResult.VolatileID must be presented to Complete. On
// contention it returns the current holder's identity and a suggested
// retry delay instead of queuing the request — backpressure is the
// caller's responsibility.
func (q *Queue) Submit(ctx context.Context, agentName string, caller identity.Caller, ttl time.Duration) (*AdmitResult, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	volatileID := uuid.NewString()
	c := cell{VolatileID: volatileID, Holder: caller.String(), AcquiredAt: time.Now().UTC()}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("queue: marshal cell: %w", err)
	}

	ok, err := q.coord.RedisClient().SetNX(ctx, q.coord.PrefixedKey(slotKey(agentName)), raw, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("queue: submit for %q: %w", agentName, err)
	}
	if ok {
		return &AdmitResult{Admitted: true, VolatileID: volatileID}, nil
	}

	existing, err := q.currentCell(ctx, agentName)
	if err != nil {
		return nil, err
	}
	return &AdmitResult{Admitted: false, Holder: existing.Holder, RetryAfter: ttl}, nil
}

// Complete releases the slot iff volatileID is still the current holder.
// Idempotent with the sandbox's own completion event: whichever of the two
// (operator-initiated terminate, sandbox completion callback) arrives
// first wins; the second is a harmless no-op ErrNotHolder.
func (q *Queue) Complete(ctx context.Context, agentName, volatileID string) error {
	res, err := conditionalReleaseScript.Run(ctx, q.coord.RedisClient(),
		[]string{q.coord.PrefixedKey(slotKey(agentName))}, volatileID).Int64()
	if err != nil {
		return fmt.Errorf("queue: complete for %q: %w", agentName, err)
	}
	if res == 0 {
		return ErrNotHolder
	}
	return nil
}

// BusyAgents lists every agent currently holding a slot, via cursor
// iteration rather than a blocking scan of the full keyspace.
func (q *Queue) BusyAgents(ctx context.Context) ([]string, error) {
	keys, err := q.coord.ScanKeys(ctx, "queue:*")
	if err != nil {
		return nil, fmt.Errorf("queue: busy agents: %w", err)
	}
	agents := make([]string, 0, len(keys))
	for _, k := range keys {
		agents = append(agents, agentNameFromKey(q.coord.StripPrefix(k)))
	}
	return agents, nil
}

// IsBusy reports whether a single agent currently holds a slot.
func (q *Queue) IsBusy(ctx context.Context, agentName string) (bool, error) {
	_, err := q.currentCell(ctx, agentName)
	if errors.Is(err, errSlotEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CurrentVolatileID returns the volatile id presently holding agentName's
// slot, so a terminate request carrying only the durable execution id can
// be translated into the id the sandbox's process registry actually knows
// about. ok is false when the agent has no execution in flight.
func (q *Queue) CurrentVolatileID(ctx context.Context, agentName string) (id string, ok bool, err error) {
	c, err := q.currentCell(ctx, agentName)
	if errors.Is(err, errSlotEmpty) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return c.VolatileID, true, nil
}

var errSlotEmpty = errors.New("queue: slot empty")

func (q *Queue) currentCell(ctx context.Context, agentName string) (*cell, error) {
	raw, err := q.coord.RedisClient().Get(ctx, q.coord.PrefixedKey(slotKey(agentName))).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, errSlotEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read slot for %q: %w", agentName, err)
	}
	var c cell
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("queue: decode slot for %q: %w", agentName, err)
	}
	return &c, nil
}

func agentNameFromKey(strippedKey string) string {
	return strings.TrimPrefix(strippedKey, "queue:")
}
