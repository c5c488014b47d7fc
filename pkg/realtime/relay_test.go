package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/protocol"
)

func TestRelay_Authenticated(t *testing.T) {
	c, conn, _ := connectedClient(t)
	authed := record(c, EventAuthenticated)

	conn.push(t, protocol.EventAuthenticated, map[string]any{
		"user": map[string]any{"id": "u1", "name": "Ada"},
	})

	require.Eventually(t, func() bool { return authed.len() == 1 }, time.Second, time.Millisecond)
	assert.True(t, c.IsReady())
	st := c.Status()
	require.NotNil(t, st.CurrentUser)
	assert.Equal(t, "u1", st.CurrentUser.ID)

	p, err := Decode[AuthenticatedPayload](authed.at(0))
	require.NoError(t, err)
	assert.Equal(t, "u1", p.User.ID)
	assert.Equal(t, "Ada", p.User.Name)
	assert.Equal(t, KindHandshake, authed.at(0).Kind())
}

func TestRelay_AuthenticatedLastWriteWins(t *testing.T) {
	c, conn, _ := connectedClient(t)
	authed := record(c, EventAuthenticated)

	conn.push(t, protocol.EventAuthenticated, map[string]any{"user": map[string]any{"id": "u1", "name": "Ada"}})
	conn.push(t, protocol.EventAuthenticated, map[string]any{"user": map[string]any{"name": "anon"}})

	require.Eventually(t, func() bool { return authed.len() == 2 }, time.Second, time.Millisecond)
	st := c.Status()
	require.NotNil(t, st.CurrentUser)
	assert.Empty(t, st.CurrentUser.ID)
	assert.Equal(t, "anon", st.CurrentUser.Name)
	assert.True(t, st.Authenticated)
}

func TestRelay_AuthenticationError(t *testing.T) {
	c, conn, _ := connectedClient(t)
	failed := record(c, EventAuthError)

	conn.push(t, protocol.EventAuthenticated, map[string]any{"user": map[string]any{"id": "u1"}})
	conn.push(t, protocol.EventAuthenticationError, map[string]any{"message": "token expired"})

	require.Eventually(t, func() bool { return failed.len() == 1 }, time.Second, time.Millisecond)
	assert.False(t, c.IsReady())
	assert.True(t, c.Status().Connected)

	p, err := Decode[AuthErrorPayload](failed.at(0))
	require.NoError(t, err)
	assert.Equal(t, "token expired", p.Message)
}

func TestRelay_PassThroughInOrder(t *testing.T) {
	c, conn, _ := connectedClient(t)

	var got []Event
	done := make(chan struct{})
	for _, name := range []string{protocol.EventTaskCreated, protocol.EventTaskUpdated, "custom:event"} {
		c.On(name, func(e Event) {
			got = append(got, e)
			if len(got) == 3 {
				close(done)
			}
		})
	}

	payloads := []json.RawMessage{
		json.RawMessage(`{"id":"t1","n":1}`),
		json.RawMessage(`{"id":"t1","n":2}`),
		json.RawMessage(`[1, 2, 3]`),
	}
	conn.in <- protocol.Frame{Type: protocol.FrameEvent, Event: protocol.EventTaskCreated, Data: payloads[0]}
	conn.in <- protocol.Frame{Type: protocol.FrameEvent, Event: protocol.EventTaskUpdated, Data: payloads[1]}
	conn.in <- protocol.Frame{Type: protocol.FrameEvent, Event: "custom:event", Data: payloads[2]}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("events not relayed")
	}

	require.Len(t, got, 3)
	for i, e := range got {
		assert.Equal(t, string(payloads[i]), string(e.Payload))
	}
	assert.Equal(t, KindDomain, got[0].Kind())
	assert.Equal(t, KindUnknown, got[2].Kind())
}

func TestRelay_AllDomainEvents(t *testing.T) {
	c, conn, _ := connectedClient(t)

	seen := make(chan string, len(protocol.DomainEvents))
	for _, name := range protocol.DomainEvents {
		c.On(name, func(e Event) { seen <- e.Name })
	}
	for _, name := range protocol.DomainEvents {
		conn.push(t, name, map[string]string{"k": "v"})
	}

	for _, want := range protocol.DomainEvents {
		select {
		case got := <-seen:
			assert.Equal(t, want, got)
		case <-time.After(time.Second):
			t.Fatalf("%s not relayed", want)
		}
	}
}

func TestRelay_UnknownAckIgnored(t *testing.T) {
	c, conn, _ := connectedClient(t)
	conn.in <- protocol.NewAck("nobody-waits", protocol.Ack{Success: true})
	conn.push(t, protocol.EventTaskCreated, nil)

	got := make(chan struct{}, 1)
	c.On(protocol.EventTaskCreated, func(Event) { got <- struct{}{} })
	conn.push(t, protocol.EventTaskCreated, nil)

	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("reader stalled after unknown ack")
	}
	assert.True(t, c.Status().Connected)
}
