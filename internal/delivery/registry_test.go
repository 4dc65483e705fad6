// ABOUTME: Tests for the live session registry
// ABOUTME: Covers register/unregister, broadcast exclusion, presence, and idle sweep

package delivery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskline/livechat/internal/directory"
)

func TestRegistryRegisterAndBroadcast(t *testing.T) {
	r := NewRegistry(nil)
	customer := directory.Participant{ID: 1, Role: directory.RoleCustomer}
	operator := directory.Participant{ID: 9, Role: directory.RoleOperator}

	custSess, _, created := r.Register("conn-c", customer, 5, ChannelPush, true)
	require.True(t, created)
	_, _, created = r.Register("conn-o", operator, 5, ChannelPush, true)
	require.True(t, created)

	r.Broadcast(&Event{Type: EventNewMessage, ConversationID: 5}, "conn-o")

	select {
	case ev := <-custSess.Events():
		assert.Equal(t, EventNewMessage, ev.Type)
	default:
		t.Fatal("customer session did not receive the event")
	}
}

func TestRegistryBroadcastExcludesSender(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}
	sess, _, _ := r.Register("conn-1", p, 5, ChannelPush, true)

	r.Broadcast(&Event{Type: EventNewMessage, ConversationID: 5}, "conn-1")

	select {
	case <-sess.Events():
		t.Fatal("sender received its own event")
	default:
	}
}

func TestRegistryReregisterMovesConnection(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}

	first, _, _ := r.Register("conn-1", p, 5, ChannelPush, true)
	second, prev, created := r.Register("conn-1", p, 6, ChannelPush, true)

	require.True(t, created)
	assert.Same(t, first, prev)
	assert.NotSame(t, first, second)
	assert.Empty(t, r.Presence(5))
	assert.Len(t, r.Presence(6), 1)

	// Moving the connection closes the old session's channel.
	_, open := <-first.Events()
	assert.False(t, open)
}

func TestRegistryRegisterIdempotent(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}

	first, _, created := r.Register("conn-1", p, 5, ChannelPush, true)
	require.True(t, created)
	second, prev, created := r.Register("conn-1", p, 5, ChannelPush, true)

	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Same(t, first, prev)
}

func TestRegistryUnregister(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}
	r.Register("conn-1", p, 5, ChannelPush, true)

	sess := r.Unregister("conn-1")
	require.NotNil(t, sess)
	assert.Equal(t, int64(5), sess.ConversationID)
	assert.Nil(t, r.Unregister("conn-1"))
	assert.Empty(t, r.Presence(5))
}

func TestRegistryPresenceCollapsesDuplicates(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}

	r.Register("tab-1", p, 5, ChannelPush, true)
	r.Register("tab-2", p, 5, ChannelPush, true)

	assert.Len(t, r.Presence(5), 1)
}

func TestRegistryInactiveSessionHiddenFromPresence(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}
	sess, _, _ := r.Register("conn-1", p, 5, ChannelPush, false)

	assert.Empty(t, r.Presence(5))

	// Inactive sessions still receive fan-out.
	r.Broadcast(&Event{Type: EventNewMessage, ConversationID: 5}, "")
	select {
	case ev := <-sess.Events():
		assert.Equal(t, EventNewMessage, ev.Type)
	default:
		t.Fatal("expected event for inactive session")
	}
}

func TestRegistryDropsEventsForStalledSession(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}
	sess, _, _ := r.Register("conn-1", p, 5, ChannelPush, true)

	for i := 0; i < sessionBuffer+10; i++ {
		r.Broadcast(&Event{Type: EventNewMessage, ConversationID: 5}, "")
	}

	// The buffer holds exactly sessionBuffer events; the rest were dropped.
	count := 0
	for {
		select {
		case <-sess.Events():
			count++
			continue
		default:
		}
		break
	}
	assert.Equal(t, sessionBuffer, count)
}

func TestRegistrySweepDetachesIdleSessions(t *testing.T) {
	r := NewRegistry(nil)
	idle := directory.Participant{ID: 1, Role: directory.RoleCustomer}
	fresh := directory.Participant{ID: 2, Role: directory.RoleCustomer}

	idleSess, _, _ := r.Register("conn-idle", idle, 5, ChannelPush, true)
	r.Register("conn-fresh", fresh, 6, ChannelPush, true)

	idleSess.mu.Lock()
	idleSess.lastSeen = time.Now().UTC().Add(-time.Hour)
	idleSess.mu.Unlock()

	swept := r.Sweep(30 * time.Minute)

	require.Len(t, swept, 1)
	assert.Equal(t, "conn-idle", swept[0].ConnID)
	assert.Empty(t, r.Presence(5))
	assert.Len(t, r.Presence(6), 1)
}

func TestRegistryTouchAdvancesCursor(t *testing.T) {
	r := NewRegistry(nil)
	p := directory.Participant{ID: 1, Role: directory.RoleCustomer}
	sess, _, _ := r.Register("conn-1", p, 5, ChannelPush, true)

	r.Touch("conn-1", 7)
	r.Touch("conn-1", 3) // stale ack must not move the cursor back

	assert.Equal(t, int64(7), sess.LastSeenSeq())
}
