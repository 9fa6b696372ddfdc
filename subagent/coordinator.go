package subagent

import (
	"fmt"
	"sync"

	"github.com/helmsman-ai/helmsman/config"
	"github.com/helmsman-ai/helmsman/logging"
)

// Coordinator owns the agentId→channel map and is the only component permitted
// to move messages across channels. The map is shared by concurrently running
// sub-agents and is mutex-guarded throughout.
type Coordinator struct {
	cfg    config.Communication
	logger logging.Logger

	mu       sync.RWMutex
	channels map[string]*Communication

	statsMu     sync.Mutex
	routed      int
	routeErrors int
}

// NewCoordinator creates an empty coordinator.
func NewCoordinator(cfg config.Communication, logger logging.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Coordinator{
		cfg:      cfg,
		logger:   logger,
		channels: make(map[string]*Communication),
	}
}

// CreateChannel registers and returns a channel for agentID. An existing
// channel under the same id is replaced.
func (co *Coordinator) CreateChannel(agentID, parentID string) *Communication {
	ch := newCommunication(agentID, parentID, co, co.cfg)
	co.mu.Lock()
	co.channels[agentID] = ch
	co.mu.Unlock()
	co.logger.Debug("coordinator.channel.created", "agent_id", agentID, "parent_id", parentID)
	return ch
}

// RemoveChannel closes and unregisters the channel for agentID.
func (co *Coordinator) RemoveChannel(agentID string) {
	co.mu.Lock()
	ch, ok := co.channels[agentID]
	delete(co.channels, agentID)
	co.mu.Unlock()
	if ok {
		ch.Close()
	}
}

// Channel returns the registered channel for agentID.
func (co *Coordinator) Channel(agentID string) (*Communication, bool) {
	co.mu.RLock()
	defer co.mu.RUnlock()
	ch, ok := co.channels[agentID]
	return ch, ok
}

// RouteMessage forwards a message between two registered channels.
func (co *Coordinator) RouteMessage(from, to string, msg Message) error {
	return co.route(from, to, msg)
}

// route implements the router interface consumed by Communication.
func (co *Coordinator) route(from, to string, msg Message) error {
	co.mu.RLock()
	_, fromOK := co.channels[from]
	target, toOK := co.channels[to]
	co.mu.RUnlock()

	if !fromOK {
		co.countError()
		return fmt.Errorf("route: sender channel %s is not registered", from)
	}
	if !toOK {
		co.countError()
		return fmt.Errorf("route: target channel %s is not registered", to)
	}
	if err := target.deliver(msg); err != nil {
		co.countError()
		return err
	}
	co.statsMu.Lock()
	co.routed++
	co.statsMu.Unlock()
	return nil
}

// Broadcast fans a message out to every channel except the sender. Delivery is
// concurrent and best-effort: partial failures are counted and logged but do
// not abort the broadcast.
func (co *Coordinator) Broadcast(from string, msg Message) {
	co.mu.RLock()
	targets := make([]*Communication, 0, len(co.channels))
	for id, ch := range co.channels {
		if id != from {
			targets = append(targets, ch)
		}
	}
	co.mu.RUnlock()

	var wg sync.WaitGroup
	for _, target := range targets {
		wg.Add(1)
		go func(ch *Communication) {
			defer wg.Done()
			if err := ch.deliver(msg); err != nil {
				co.countError()
				co.logger.Warn("coordinator.broadcast.failed", "target", ch.AgentID(), "error", err.Error())
				return
			}
			co.statsMu.Lock()
			co.routed++
			co.statsMu.Unlock()
		}(target)
	}
	wg.Wait()
}

func (co *Coordinator) countError() {
	co.statsMu.Lock()
	co.routeErrors++
	co.statsMu.Unlock()
}

// Stats aggregates coordinator counters.
type Stats struct {
	MessagesRouted int `json:"messages_routed"`
	RouteErrors    int `json:"route_errors"`
	ActiveChannels int `json:"active_channels"`
}

// Stats returns a snapshot of the coordinator's counters.
func (co *Coordinator) Stats() Stats {
	co.mu.RLock()
	active := 0
	for _, ch := range co.channels {
		if ch.Active() {
			active++
		}
	}
	co.mu.RUnlock()

	co.statsMu.Lock()
	defer co.statsMu.Unlock()
	return Stats{
		MessagesRouted: co.routed,
		RouteErrors:    co.routeErrors,
		ActiveChannels: active,
	}
}

// Shutdown closes and removes every channel.
func (co *Coordinator) Shutdown() {
	co.mu.Lock()
	channels := co.channels
	co.channels = make(map[string]*Communication)
	co.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}
