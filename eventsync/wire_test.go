package eventsync

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeEnvelopeRejectsGarbage(t *testing.T) {
	_, err := DecodeEnvelope([]byte(`not json`))
	require.Error(t, err)

	_, err = DecodeEnvelope([]byte(`{"data":{}}`))
	require.Error(t, err, "missing type tag must be rejected")
}

func TestDecodePayloadDispatch(t *testing.T) {
	env := mustEnvelope(t, MsgEventUpdated, remoteRecord("e1", 4))
	payload, err := env.DecodePayload()
	require.NoError(t, err)
	rec, ok := payload.(*EventRecord)
	require.True(t, ok)
	require.Equal(t, "e1", rec.ID)
	require.Equal(t, int64(4), rec.Version)

	env = mustEnvelope(t, MsgUserJoined, MembershipPayload{EventID: "e1", UserID: "u2", Version: 5})
	payload, err = env.DecodePayload()
	require.NoError(t, err)
	member, ok := payload.(*MembershipPayload)
	require.True(t, ok)
	require.Equal(t, "u2", member.UserID)

	env = mustEnvelope(t, MsgSyncResponse, SyncResponsePayload{ID: "e1", Success: false, Error: "rate limited"})
	payload, err = env.DecodePayload()
	require.NoError(t, err)
	resp, ok := payload.(*SyncResponsePayload)
	require.True(t, ok)
	require.False(t, resp.Success)
	require.Equal(t, "rate limited", resp.Error)

	env = &Envelope{Type: MsgHeartbeat}
	payload, err = env.DecodePayload()
	require.NoError(t, err)
	require.Nil(t, payload)

	env = &Envelope{Type: "telemetry_blob"}
	_, err = env.DecodePayload()
	require.Error(t, err)
}

func TestOperationEnvelopeCarriesAttribution(t *testing.T) {
	op := testOp("e1", OpEventDeleted)
	env := NewOperationEnvelope(&op)
	require.Equal(t, MsgEventDeleted, env.Type)
	require.Equal(t, "e1", env.ID)
	require.Equal(t, "user-1", env.UserID)
	require.Equal(t, op.Timestamp.UnixMilli(), env.Timestamp)

	frame, err := env.Encode()
	require.NoError(t, err)
	decoded, err := DecodeEnvelope(frame)
	require.NoError(t, err)
	require.Equal(t, env.ID, decoded.ID)
	require.Equal(t, env.UserID, decoded.UserID)
}

func TestNewIDShape(t *testing.T) {
	before := time.Now().UnixMilli()
	id := NewID()
	after := time.Now().UnixMilli()

	parts := strings.SplitN(id, "-", 2)
	require.Len(t, parts, 2)
	millis, err := strconv.ParseInt(parts[0], 10, 64)
	require.NoError(t, err)
	require.GreaterOrEqual(t, millis, before)
	require.LessOrEqual(t, millis, after)
	require.Len(t, parts[1], 12)

	seen := map[string]bool{}
	for i := 0; i < 1000; i++ {
		next := NewID()
		require.False(t, seen[next], "ids must not collide")
		seen[next] = true
	}
}
