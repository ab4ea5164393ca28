// Package wsgateway is the WebSocket Gateway: every API replica runs one
// Hub that subscribes once to each of C6's agent-scoped wildcard subjects
// and fans incoming activity/execution events out to whichever connected
// sockets are permitted to see the agent the event names. A socket's
// permitted set is computed once, at connect time, from the same
// AccessibleAgents query the human-facing list-agents endpoint uses — so a
// share grant or ownership change only takes effect on a socket's next
// reconnect, matching how the teacher's own subscription model never
// re-evaluates membership mid-connection either.
package wsgateway

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/kandev/orchestrator/internal/common/logger"
	"github.com/kandev/orchestrator/internal/events"
	"github.com/kandev/orchestrator/internal/events/bus"
)

// watchedSubjects are the base C6 subjects every replica's hub fans out;
// each is subscribed as a wildcard across all agents and filtered per
// socket rather than one subscription per agent, so opening a socket never
// touches the bus.
var watchedSubjects = []string{
	events.ActivityRecorded,
	events.ExecutionStarted,
	events.ExecutionFinished,
	events.ExecutionCanceled,
}

// Hub owns the set of connected sockets and the bus subscriptions that feed
// them.
type Hub struct {
	bus bus.EventBus

	mu      sync.RWMutex
	clients map[*Client]bool

	subs   []bus.Subscription
	logger *logger.Logger
}

// NewHub wires a hub atop the cross-replica event bus. Call Start once at
// server startup to open the wildcard subscriptions.
func NewHub(eventBus bus.EventBus, log *logger.Logger) *Hub {
	return &Hub{
		bus:     eventBus,
		clients: make(map[*Client]bool),
		logger:  log.WithFields(zap.String("component", "ws_hub")),
	}
}

// Start opens one wildcard subscription per watched subject. It is not
// safe to call twice.
func (h *Hub) Start() error {
	for _, base := range watchedSubjects {
		subject := events.BuildAgentWildcardSubject(base)
		sub, err := h.bus.Subscribe(subject, h.handleEvent)
		if err != nil {
			h.Stop()
			return err
		}
		h.subs = append(h.subs, sub)
	}
	h.logger.Info("websocket hub subscribed", zap.Int("subjects", len(watchedSubjects)))
	return nil
}

// Stop unsubscribes from the bus and closes every connected socket.
func (h *Hub) Stop() {
	for _, sub := range h.subs {
		_ = sub.Unsubscribe()
	}
	h.subs = nil

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.close()
		delete(h.clients, client)
	}
}

func (h *Hub) handleEvent(ctx context.Context, event *bus.Event) error {
	agentName, _ := event.Data["agent"].(string)
	if agentName == "" {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Error("failed to marshal event for websocket fan-out", zap.Error(err))
		return nil
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if client.canSee(agentName) {
			client.deliver(payload)
		}
	}
	return nil
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = true
	h.logger.Debug("client connected", zap.String("client_id", c.id), zap.Int("visible_agents", len(c.allowed)))
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.logger.Debug("client disconnected", zap.String("client_id", c.id))
}

// ClientCount reports how many sockets are currently connected, for health
// and metrics surfaces.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
