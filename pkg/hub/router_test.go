package hub

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/sitesync/pkg/protocol"
)

func TestRouter_MiddlewareOrder(t *testing.T) {
	r := NewRouter()
	var calls []string

	require.NoError(t, r.Use(
		func(ctx context.Context, c *Client, f protocol.Frame, next NextFunc) error {
			calls = append(calls, "outer")
			return next()
		},
		func(ctx context.Context, c *Client, f protocol.Frame, next NextFunc) error {
			calls = append(calls, "inner")
			return next()
		},
	))
	require.NoError(t, r.Register("ping", func(ctx context.Context, c *Client, f protocol.Frame) error {
		calls = append(calls, "handler")
		return nil
	}))

	for _, freeze := range []bool{false, true} {
		calls = nil
		if freeze {
			r.Freeze()
		}
		require.NoError(t, r.Route(context.Background(), nil, protocol.Frame{Event: "ping"}))
		assert.Equal(t, []string{"outer", "inner", "handler"}, calls)
	}
}

func TestRouter_MiddlewareShortCircuit(t *testing.T) {
	r := NewRouter()
	require.NoError(t, r.Use(func(ctx context.Context, c *Client, f protocol.Frame, next NextFunc) error {
		return ErrRoomForbidden
	}))
	called := false
	require.NoError(t, r.Register("ping", func(context.Context, *Client, protocol.Frame) error {
		called = true
		return nil
	}))

	err := r.Route(context.Background(), nil, protocol.Frame{Event: "ping"})
	assert.ErrorIs(t, err, ErrRoomForbidden)
	assert.False(t, called)
}

func TestRouter_Errors(t *testing.T) {
	r := NewRouter()
	noop := func(context.Context, *Client, protocol.Frame) error { return nil }

	require.NoError(t, r.Register("a", noop))
	assert.ErrorIs(t, r.Register("a", noop), ErrHandlerExists)
	assert.ErrorIs(t, r.Route(context.Background(), nil, protocol.Frame{Event: "missing"}), ErrHandlerNotFound)

	r.Freeze()
	assert.ErrorIs(t, r.Register("b", noop), ErrRouterFrozen)
	assert.ErrorIs(t, r.Use(), ErrRouterFrozen)
	assert.ErrorIs(t, r.Route(context.Background(), nil, protocol.Frame{Event: "missing"}), ErrHandlerNotFound)
}

func TestHandle_DecodesPayload(t *testing.T) {
	r := NewRouter()
	var got string
	require.NoError(t, Handle(r, "join", func(_ context.Context, _ *Client, req *protocol.RoomRequest) error {
		got = req.ProjectID
		return nil
	}))

	require.NoError(t, r.Route(context.Background(), nil, protocol.Frame{Event: "join", Data: json.RawMessage(`{"projectId":"p1"}`)}))
	assert.Equal(t, "p1", got)

	err := r.Route(context.Background(), nil, protocol.Frame{Event: "join", Data: json.RawMessage(`[1,2]`)})
	assert.ErrorIs(t, err, ErrInvalidFrame)
}
