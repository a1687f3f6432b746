package ingestion

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lightning-lens/internal/domain"
)

var fixedNow = time.Date(2025, 3, 3, 12, 0, 0, 0, time.UTC)

func testDecoder() Decoder {
	return Decoder{Now: func() time.Time { return fixedNow }}
}

func TestDecode_ChannelState(t *testing.T) {
	msg := `{
		"event_type": "channel_state",
		"node": "alice",
		"node_pubkey": "02AAAAAAAA",
		"remote_pubkey": "03bbbbbbbbcc",
		"capacity": 1000000,
		"local_balance": 250000.0,
		"timestamp": "2025-03-03T10:30:00.123456"
	}`

	events, err := testDecoder().Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, events, 1)

	cs, ok := events[0].(domain.ChannelState)
	require.True(t, ok)
	assert.Equal(t, "alice_03bbbbbb", cs.ChannelID)
	assert.Equal(t, "02AAAAAAAA", cs.NodePubkey)
	assert.Equal(t, int64(1_000_000), cs.Capacity)
	assert.Equal(t, int64(750_000), cs.RemoteBalance)
	assert.Equal(t, 0.25, cs.BalanceRatio)
	assert.Equal(t, 1.0, cs.SuccessRate)
	assert.Equal(t, time.Date(2025, 3, 3, 10, 30, 0, 123456000, time.UTC), cs.Timestamp)
}

func TestDecode_ChannelUpdateUnderData(t *testing.T) {
	msg := `{
		"type": "channel_update",
		"data": {
			"alice": [{"remote_pubkey": "03bbbbbbbb", "capacity": 500000, "local_balance": 100000}],
			"bob":   {"channels": [{"remote_pubkey": "02aaaaaaaa", "capacity": 500000, "local_balance": 400000}]}
		}
	}`

	events, err := testDecoder().Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, events, 2)

	ids := map[string]domain.ChannelState{}
	for _, ev := range events {
		cs := ev.(domain.ChannelState)
		ids[cs.ChannelID] = cs
	}
	require.Contains(t, ids, "alice_03bbbbbb")
	require.Contains(t, ids, "bob_02aaaaaa")
	assert.Equal(t, fixedNow, ids["bob_02aaaaaa"].Timestamp, "undated events use the decoder clock")
	assert.Equal(t, "bob", ids["bob_02aaaaaa"].Node)
}

func TestDecode_TransactionNested(t *testing.T) {
	msg := `{
		"type": "transaction",
		"data": {
			"transaction": {"sender": "alice", "receiver": "bob", "amount": 5000, "success": false, "description": "coffee"},
			"channels": {
				"alice": [{"remote_pubkey": "03bbbbbbbb", "capacity": 1000000, "local_balance": 495000}]
			}
		},
		"timestamp": 1741000000
	}`

	events, err := testDecoder().Decode([]byte(msg))
	require.NoError(t, err)
	require.Len(t, events, 1)

	tx, ok := events[0].(domain.Transaction)
	require.True(t, ok)
	assert.Equal(t, "alice", tx.Sender)
	assert.Equal(t, "bob", tx.Receiver)
	assert.Equal(t, int64(5000), tx.Amount)
	assert.False(t, tx.Success)
	assert.Equal(t, "coffee", tx.Description)
	require.Len(t, tx.ChannelsAfter, 1)
	assert.Equal(t, "alice_03bbbbbb", tx.ChannelsAfter[0].ChannelID)
	assert.Equal(t, tx.Timestamp, tx.ChannelsAfter[0].Timestamp)
}

func TestDecode_TransactionFlat(t *testing.T) {
	msg := `{"event_type": "transaction", "sender": "carol", "receiver": "dave", "amount": 12.6,
		"timestamp": "2025-03-03T10:00:00Z",
		"channels": [{"node": "carol", "remote_pubkey": "02dddddddd", "capacity": 100, "local_balance": 40}]}`

	events, err := testDecoder().Decode([]byte(msg))
	require.NoError(t, err)
	tx := events[0].(domain.Transaction)

	assert.Equal(t, int64(13), tx.Amount)
	assert.True(t, tx.Success, "success defaults to true")
	assert.Equal(t, time.Date(2025, 3, 3, 10, 0, 0, 0, time.UTC), tx.Timestamp)
	require.Len(t, tx.ChannelsAfter, 1)
	assert.Equal(t, 0.4, tx.ChannelsAfter[0].BalanceRatio)
}

func TestDecode_Timestamps(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Time
	}{
		{`"2025-03-03T10:30:00+02:00"`, time.Date(2025, 3, 3, 8, 30, 0, 0, time.UTC)},
		{`"2025-03-03T10:30:00"`, time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)},
		{`"2025-03-03 10:30:00"`, time.Date(2025, 3, 3, 10, 30, 0, 0, time.UTC)},
		{`1741000000.5`, time.Unix(1741000000, 500_000_000).UTC()},
		{`"1741000000"`, time.Unix(1741000000, 0).UTC()},
		{`null`, fixedNow},
		{`""`, fixedNow},
	}

	for _, tc := range cases {
		got, err := parseTimestamp([]byte(tc.raw), fixedNow)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tc.raw, err)
		}
		if !got.Equal(tc.want) {
			t.Errorf("%s: got %v, want %v", tc.raw, got, tc.want)
		}
	}

	_, err := parseTimestamp([]byte(`"yesterday"`), fixedNow)
	assert.Error(t, err)
}

func TestDecode_IgnoredTypes(t *testing.T) {
	for _, msg := range []string{
		`{"type": "heartbeat"}`,
		`{"type": "state_update", "data": {}}`,
		`{"type": "connection_status", "data": {"status": "ok"}}`,
		`{}`,
	} {
		_, err := testDecoder().Decode([]byte(msg))
		assert.ErrorIs(t, err, ErrIgnored, msg)
	}
}

func TestDecode_Malformed(t *testing.T) {
	cases := map[string]string{
		"not json":          `{"type":`,
		"no sender":         `{"type": "transaction", "receiver": "bob"}`,
		"no channel id":     `{"type": "channel_state", "capacity": 10, "local_balance": 5}`,
		"no local balance":  `{"type": "channel_state", "channel_id": "a_b", "capacity": 10}`,
		"no channels":       `{"type": "channel_update", "data": {}}`,
		"bad timestamp":     `{"type": "channel_state", "channel_id": "a_b", "capacity": 10, "local_balance": 5, "timestamp": "soon"}`,
		"bad channels list": `{"type": "transaction", "sender": "a", "receiver": "b", "channels": [1, 2]}`,
	}

	for name, msg := range cases {
		_, err := testDecoder().Decode([]byte(msg))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrMalformed), "%s: %v", name, err)

		var me *MalformedError
		assert.True(t, errors.As(err, &me), name)
	}
}

func TestDecode_ChannelIDRecoversNode(t *testing.T) {
	msg := `{"type": "channel_state", "channel_id": "big_node_03bbbbbb", "capacity": 10, "local_balance": 5}`

	events, err := testDecoder().Decode([]byte(msg))
	require.NoError(t, err)
	assert.Equal(t, "big_node", events[0].(domain.ChannelState).Node)
}
