package subagent

import (
	"fmt"
	"sync"
	"time"

	"github.com/helmsman-ai/helmsman/config"
)

// inboxSize buffers inbound parent messages so senders never block on a
// receiver that is not currently waiting.
const inboxSize = 64

// Communication is one agent's channel in the coordination fabric. Channels
// never reference each other directly: all cross-channel traffic goes through
// the Coordinator, which addresses channels strictly by agent id.
type Communication struct {
	agentID  string
	parentID string
	router   router
	cfg      config.Communication

	inbox chan Message

	mu          sync.Mutex
	active      bool
	history     []Message
	subscribers map[string]func(Message)
}

// router is implemented by the Coordinator; Communication only knows how to
// hand a message off for routing by id.
type router interface {
	route(from, to string, msg Message) error
}

func newCommunication(agentID, parentID string, r router, cfg config.Communication) *Communication {
	return &Communication{
		agentID:     agentID,
		parentID:    parentID,
		router:      r,
		cfg:         cfg,
		inbox:       make(chan Message, inboxSize),
		active:      true,
		subscribers: make(map[string]func(Message)),
	}
}

// AgentID returns the owning agent's id.
func (c *Communication) AgentID() string { return c.agentID }

// ParentID returns the configured parent agent id, if any.
func (c *Communication) ParentID() string { return c.parentID }

// Active reports whether the channel still accepts traffic.
func (c *Communication) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// SendToParent routes a message to the configured parent. It fails when the
// channel is closed or no parent is configured.
func (c *Communication) SendToParent(msg Message) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return fmt.Errorf("channel %s is closed", c.agentID)
	}
	if c.parentID == "" {
		c.mu.Unlock()
		return fmt.Errorf("channel %s has no parent configured", c.agentID)
	}
	c.recordLocked(msg)
	c.mu.Unlock()
	return c.router.route(c.agentID, c.parentID, msg)
}

// SendToSubAgent routes a message to a child agent's channel.
func (c *Communication) SendToSubAgent(childID string, msg Message) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return fmt.Errorf("channel %s is closed", c.agentID)
	}
	c.recordLocked(msg)
	c.mu.Unlock()
	return c.router.route(c.agentID, childID, msg)
}

// ReceiveFromParent blocks until one message from the parent arrives or the
// configured timeout elapses, returning nil on timeout. The wait is a race
// between the inbox and a timer; either outcome leaves no listener behind.
func (c *Communication) ReceiveFromParent() *Message {
	timeout := c.cfg.ReceiveTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case msg := <-c.inbox:
		return &msg
	case <-timer.C:
		return nil
	}
}

// SubscribeToSubAgent registers a handler for messages arriving from childID.
func (c *Communication) SubscribeToSubAgent(childID string, fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribers[childID] = fn
}

// UnsubscribeFromSubAgent removes the handler for childID.
func (c *Communication) UnsubscribeFromSubAgent(childID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscribers, childID)
}

// deliver is invoked by the Coordinator for inbound messages. Parent messages
// land in the inbox for ReceiveFromParent; messages from subscribed children
// invoke their handler. Every accepted message enters the bounded history.
func (c *Communication) deliver(msg Message) error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return fmt.Errorf("channel %s is closed", c.agentID)
	}
	c.recordLocked(msg)
	fn := c.subscribers[msg.From]
	c.mu.Unlock()

	if fn != nil {
		fn(msg)
	}
	if msg.From == c.parentID && c.parentID != "" {
		select {
		case c.inbox <- msg:
		default: // receiver absent and buffer full -> history retains the message
		}
	}
	return nil
}

// recordLocked appends to the ring-buffer history, evicting the oldest entry
// beyond the cap. Callers hold c.mu.
func (c *Communication) recordLocked(msg Message) {
	limit := c.cfg.HistoryLimit
	if limit <= 0 {
		limit = 1000
	}
	c.history = append(c.history, msg)
	if len(c.history) > limit {
		c.history = c.history[1:]
	}
}

// History returns a copy of the retained message history, oldest first.
func (c *Communication) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

// Close unsubscribes all children and marks the channel inactive. Idempotent;
// subsequent sends error and deliveries are rejected.
func (c *Communication) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	c.active = false
	c.subscribers = make(map[string]func(Message))
}
