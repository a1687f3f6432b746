package domain

import (
	"strings"
	"time"
)

// EventKind identifies the variant of a TelemetryEvent.
type EventKind string

const (
	KindChannelState EventKind = "channel_state"
	KindTransaction  EventKind = "transaction"
)

// TelemetryEvent is either a ChannelState or a Transaction.
// The interface is sealed: only types in this package implement it.
type TelemetryEvent interface {
	Kind() EventKind
	EventTime() time.Time
	telemetry()
}

// RemotePrefixLen is the number of remote pubkey characters used in a derived channel ID.
const RemotePrefixLen = 8

// DeriveChannelID builds the "{node}_{remotePubkeyPrefix8}" identifier.
func DeriveChannelID(node, remotePubkey string) string {
	return node + "_" + PubkeyPrefix(remotePubkey)
}

// PubkeyPrefix returns the first RemotePrefixLen characters of a pubkey.
func PubkeyPrefix(pubkey string) string {
	if len(pubkey) > RemotePrefixLen {
		return pubkey[:RemotePrefixLen]
	}
	return pubkey
}

// SplitChannelID parses a channel ID into its local node and remote pubkey prefix.
// The split happens at the last underscore so node names may contain underscores.
func SplitChannelID(channelID string) (node, remotePrefix string, ok bool) {
	i := strings.LastIndex(channelID, "_")
	if i <= 0 || i == len(channelID)-1 {
		return "", "", false
	}
	return channelID[:i], channelID[i+1:], true
}

// ChannelState is a snapshot of one channel as observed from its local node.
// Optional telemetry fields are resolved to their defaults by NewChannelState.
type ChannelState struct {
	ChannelID     string
	Node          string
	NodePubkey    string
	RemotePubkey  string
	Capacity      int64
	LocalBalance  int64
	RemoteBalance int64
	BalanceRatio  float64
	TxCount       int64
	SuccessRate   float64
	AvgAmount     float64
	Timestamp     time.Time
}

// ChannelStateInput carries raw channel telemetry. Nil pointers mean "absent".
type ChannelStateInput struct {
	ChannelID     string
	Node          string
	NodePubkey    string // optional identity key of Node
	RemotePubkey  string
	Capacity      int64
	LocalBalance  int64
	RemoteBalance *int64
	BalanceRatio  *float64
	TxCount       *int64
	SuccessRate   *float64
	AvgAmount     *float64
	Timestamp     time.Time
}

// Defaults applied to absent optional channel fields.
const (
	DefaultSuccessRate = 1.0
	DefaultTxCount     = 0
	DefaultAvgAmount   = 0.0
)

// NewChannelState resolves optional fields once:
//   - channel_id: derived from node and remote pubkey when empty
//   - remote_balance: capacity - local_balance
//   - balance_ratio: local_balance / capacity, 0 when capacity is 0
//   - tx_count 0, success_rate 1.0, avg_amount 0
func NewChannelState(in ChannelStateInput) ChannelState {
	cs := ChannelState{
		ChannelID:    in.ChannelID,
		Node:         in.Node,
		NodePubkey:   in.NodePubkey,
		RemotePubkey: in.RemotePubkey,
		Capacity:     in.Capacity,
		LocalBalance: in.LocalBalance,
		TxCount:      DefaultTxCount,
		SuccessRate:  DefaultSuccessRate,
		AvgAmount:    DefaultAvgAmount,
		Timestamp:    in.Timestamp,
	}

	if cs.ChannelID == "" && cs.Node != "" && cs.RemotePubkey != "" {
		cs.ChannelID = DeriveChannelID(cs.Node, cs.RemotePubkey)
	}

	if in.RemoteBalance != nil {
		cs.RemoteBalance = *in.RemoteBalance
	} else {
		cs.RemoteBalance = in.Capacity - in.LocalBalance
	}

	if in.BalanceRatio != nil {
		cs.BalanceRatio = *in.BalanceRatio
	} else if in.Capacity > 0 {
		cs.BalanceRatio = float64(in.LocalBalance) / float64(in.Capacity)
	}

	if in.TxCount != nil {
		cs.TxCount = *in.TxCount
	}
	if in.SuccessRate != nil {
		cs.SuccessRate = *in.SuccessRate
	}
	if in.AvgAmount != nil {
		cs.AvgAmount = *in.AvgAmount
	}

	return cs
}

// Kind implements TelemetryEvent.
func (c ChannelState) Kind() EventKind { return KindChannelState }

// EventTime implements TelemetryEvent.
func (c ChannelState) EventTime() time.Time { return c.Timestamp }

func (ChannelState) telemetry() {}

// HasRequiredFields reports whether the state carries every field the
// feature extractor needs.
func (c ChannelState) HasRequiredFields() bool {
	return c.ChannelID != "" && !c.Timestamp.IsZero() && c.Capacity > 0
}

// Transaction is a completed (or failed) payment between two nodes.
// ChannelsAfter optionally holds the sender's channel snapshot taken after the payment.
type Transaction struct {
	Sender        string
	Receiver      string
	Amount        int64
	Success       bool
	Fee           int64
	Description   string
	Timestamp     time.Time
	ChannelsAfter []ChannelState
}

// Kind implements TelemetryEvent.
func (t Transaction) Kind() EventKind { return KindTransaction }

// EventTime implements TelemetryEvent.
func (t Transaction) EventTime() time.Time { return t.Timestamp }

func (Transaction) telemetry() {}
