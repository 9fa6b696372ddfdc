package subagent

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helmsman-ai/helmsman/config"
)

func commCfg() config.Communication {
	return config.Communication{ReceiveTimeout: 50 * time.Millisecond, HistoryLimit: 1000}
}

func TestCommunication_ParentToChildInbox(t *testing.T) {
	co := NewCoordinator(commCfg(), nil)
	parent := co.CreateChannel("parent", "")
	child := co.CreateChannel("child", "parent")

	msg := NewMessage(MessageProgressUpdate, "parent", "child", "ping")
	require.NoError(t, parent.SendToSubAgent("child", msg))

	received := child.ReceiveFromParent()
	require.NotNil(t, received)
	assert.Equal(t, msg.ID, received.ID)
	assert.Equal(t, "ping", received.Payload)
}

func TestCommunication_ChildToParentSubscription(t *testing.T) {
	co := NewCoordinator(commCfg(), nil)
	parent := co.CreateChannel("parent", "")
	child := co.CreateChannel("child", "parent")

	var got []Message
	parent.SubscribeToSubAgent("child", func(m Message) { got = append(got, m) })

	require.NoError(t, child.SendToParent(NewMessage(MessageResult, "child", "parent", "done")))
	require.Len(t, got, 1)
	assert.Equal(t, MessageResult, got[0].Type)

	parent.UnsubscribeFromSubAgent("child")
	require.NoError(t, child.SendToParent(NewMessage(MessageResult, "child", "parent", "again")))
	assert.Len(t, got, 1, "unsubscribed handler must not fire")
}

func TestCommunication_ReceiveTimeout(t *testing.T) {
	co := NewCoordinator(commCfg(), nil)
	child := co.CreateChannel("child", "parent")

	start := time.Now()
	msg := child.ReceiveFromParent()
	assert.Nil(t, msg)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestCommunication_SendToParentWithoutParent(t *testing.T) {
	co := NewCoordinator(commCfg(), nil)
	orphan := co.CreateChannel("orphan", "")

	err := orphan.SendToParent(NewMessage(MessageResult, "orphan", "", "x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no parent configured")
}

func TestCommunication_HistoryEviction(t *testing.T) {
	cfg := commCfg()
	cfg.HistoryLimit = 3
	co := NewCoordinator(cfg, nil)
	parent := co.CreateChannel("parent", "")
	co.CreateChannel("child", "parent")

	for i := 0; i < 5; i++ {
		msg := NewMessage(MessageProgressUpdate, "parent", "child", fmt.Sprintf("m%d", i))
		require.NoError(t, parent.SendToSubAgent("child", msg))
	}

	history := parent.History()
	require.Len(t, history, 3, "history retains only the newest entries")
	assert.Equal(t, "m2", history[0].Payload)
	assert.Equal(t, "m4", history[2].Payload)
}

func TestCommunication_Close(t *testing.T) {
	co := NewCoordinator(commCfg(), nil)
	parent := co.CreateChannel("parent", "")
	child := co.CreateChannel("child", "parent")

	child.Close()
	child.Close() // idempotent
	assert.False(t, child.Active())

	err := child.SendToParent(NewMessage(MessageResult, "child", "parent", "late"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")

	// deliveries to a closed channel are rejected and counted
	err = parent.SendToSubAgent("child", NewMessage(MessageProgressUpdate, "parent", "child", "x"))
	require.Error(t, err)
	assert.Equal(t, 1, co.Stats().RouteErrors)
}
