package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    FrameType
		wantErr bool
	}{
		{name: "event", raw: `{"type":"event","event":"task:created","data":{"id":1}}`, want: FrameEvent},
		{name: "implicit event", raw: `{"event":"project:updated"}`, want: FrameEvent},
		{name: "ack", raw: `{"type":"ack","id":"a1","data":{"success":true}}`, want: FrameAck},
		{name: "event without name", raw: `{"type":"event"}`, wantErr: true},
		{name: "ack without id", raw: `{"type":"ack"}`, wantErr: true},
		{name: "unknown type", raw: `{"type":"binary","event":"x"}`, wantErr: true},
		{name: "garbage", raw: `not json`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, f.Type)
		})
	}
}

func TestDecode_PayloadUntouched(t *testing.T) {
	raw := `{"type":"event","event":"scope:updated","data":{"b":2,"a":[1,  2]}}`
	f, err := Decode([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, `{"b":2,"a":[1,  2]}`, string(f.Data))
}

func TestNewRequestAndAck(t *testing.T) {
	f, err := NewRequest(EventProjectJoin, "req-1", RoomRequest{ProjectID: "p1"})
	require.NoError(t, err)
	assert.Equal(t, FrameRequest, f.Type)
	assert.JSONEq(t, `{"projectId":"p1"}`, string(f.Data))

	ack := NewAck("req-1", Ack{Success: false, Error: "forbidden"})
	got, err := ack.DecodeAck()
	require.NoError(t, err)
	assert.False(t, got.Success)
	assert.Equal(t, "forbidden", got.Error)

	_, err = Frame{Type: FrameAck, ID: "x"}.DecodeAck()
	assert.Error(t, err)
}

func TestNewEvent_RawPayload(t *testing.T) {
	f, err := NewEvent(EventTaskCreated, json.RawMessage(`{"id":"t1"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"id":"t1"}`, string(f.Data))

	_, err = NewEvent(EventTaskCreated, []byte("{broken"))
	assert.Error(t, err)

	f, err = NewEvent(EventTaskCreated, nil)
	require.NoError(t, err)
	assert.Nil(t, f.Data)
}

func TestTimestamp(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 123456789, time.FixedZone("CST", 8*3600))
	assert.Equal(t, "2026-03-01T00:30:00.123Z", Timestamp(ts))
}

func TestIsDomainEvent(t *testing.T) {
	assert.Len(t, DomainEvents, 11)
	assert.True(t, IsDomainEvent(EventSelectionChanged))
	assert.False(t, IsDomainEvent(EventProjectJoin))
	assert.False(t, IsDomainEvent(EventAuthenticated))
}
