// Package ingestion turns simulator telemetry into domain events and feeds
// them to the learning engine.
package ingestion

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"lightning-lens/internal/domain"
)

// Message types accepted on the wire.
const (
	TypeChannelState  = "channel_state"
	TypeChannelUpdate = "channel_update"
	TypeTransaction   = "transaction"
)

// wireMessage covers every telemetry shape the simulator emits. Payload
// fields may sit at the top level or under "data".
type wireMessage struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`

	wireChannel

	Transaction *wireTransaction `json:"transaction"`
	Sender      string           `json:"sender"`
	Receiver    string           `json:"receiver"`
	Amount      *float64         `json:"amount"`
	Success     *bool            `json:"success"`
	Fee         *float64         `json:"fee"`
	Description string           `json:"description"`

	Channels json.RawMessage `json:"channels"`
}

type wireChannel struct {
	ChannelID     string          `json:"channel_id"`
	Node          string          `json:"node"`
	NodePubkey    string          `json:"node_pubkey"`
	RemotePubkey  string          `json:"remote_pubkey"`
	Capacity      *float64        `json:"capacity"`
	LocalBalance  *float64        `json:"local_balance"`
	RemoteBalance *float64        `json:"remote_balance"`
	BalanceRatio  *float64        `json:"balance_ratio"`
	TxCount       *float64        `json:"tx_count"`
	SuccessRate   *float64        `json:"success_rate"`
	AvgAmount     *float64        `json:"avg_amount"`
	Timestamp     json.RawMessage `json:"timestamp"`
}

type wireTransaction struct {
	Sender      string          `json:"sender"`
	Receiver    string          `json:"receiver"`
	Amount      *float64        `json:"amount"`
	Success     *bool           `json:"success"`
	Fee         *float64        `json:"fee"`
	Description string          `json:"description"`
	Timestamp   json.RawMessage `json:"timestamp"`
}

// Decoder parses telemetry messages. The zero value stamps undated events
// with time.Now.
type Decoder struct {
	Now func() time.Time
}

// Decode parses one message. A channel message listing several channels
// yields one ChannelState per channel. Returns ErrIgnored for non-telemetry
// message types and a *MalformedError for unusable payloads.
func (d Decoder) Decode(data []byte) ([]domain.TelemetryEvent, error) {
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}

	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &MalformedError{Reason: err.Error()}
	}
	kind := msg.Type
	if kind == "" {
		kind = msg.EventType
	}

	body := msg
	if isObject(msg.Data) {
		var inner wireMessage
		if err := json.Unmarshal(msg.Data, &inner); err != nil {
			return nil, &MalformedError{Type: kind, Reason: "data: " + err.Error()}
		}
		if len(inner.Timestamp) == 0 {
			inner.Timestamp = msg.Timestamp
		}
		body = inner
	}

	switch kind {
	case TypeChannelState, TypeChannelUpdate:
		return decodeChannelMessage(kind, body, msg.Data, now())
	case TypeTransaction:
		tx, err := decodeTransaction(body, now())
		if err != nil {
			return nil, err
		}
		return []domain.TelemetryEvent{tx}, nil
	default:
		return nil, ErrIgnored
	}
}

func decodeChannelMessage(kind string, body wireMessage, data json.RawMessage, now time.Time) ([]domain.TelemetryEvent, error) {
	at, err := parseTimestamp(body.Timestamp, now)
	if err != nil {
		return nil, &MalformedError{Type: kind, Reason: err.Error()}
	}

	if body.Capacity != nil {
		cs, err := toChannelState(body.wireChannel, "", at)
		if err != nil {
			return nil, &MalformedError{Type: kind, Reason: err.Error()}
		}
		return []domain.TelemetryEvent{cs}, nil
	}

	raw := body.Channels
	if len(raw) == 0 {
		// Snapshot list or {node: [...]} map directly under data.
		raw = data
	}
	states, err := decodeChannelList(raw, at)
	if err != nil {
		return nil, &MalformedError{Type: kind, Reason: err.Error()}
	}
	if len(states) == 0 {
		return nil, &MalformedError{Type: kind, Reason: "no channels in message"}
	}
	events := make([]domain.TelemetryEvent, len(states))
	for i, cs := range states {
		events[i] = cs
	}
	return events, nil
}

func decodeTransaction(body wireMessage, now time.Time) (domain.Transaction, error) {
	src := wireTransaction{
		Sender:      body.Sender,
		Receiver:    body.Receiver,
		Amount:      body.Amount,
		Success:     body.Success,
		Fee:         body.Fee,
		Description: body.Description,
		Timestamp:   body.Timestamp,
	}
	if body.Transaction != nil {
		src = *body.Transaction
		if len(src.Timestamp) == 0 {
			src.Timestamp = body.Timestamp
		}
	}
	if src.Sender == "" || src.Receiver == "" {
		return domain.Transaction{}, &MalformedError{Type: TypeTransaction, Reason: "sender and receiver are required"}
	}

	at, err := parseTimestamp(src.Timestamp, now)
	if err != nil {
		return domain.Transaction{}, &MalformedError{Type: TypeTransaction, Reason: err.Error()}
	}

	tx := domain.Transaction{
		Sender:      src.Sender,
		Receiver:    src.Receiver,
		Amount:      toInt(src.Amount),
		Success:     true,
		Fee:         toInt(src.Fee),
		Description: src.Description,
		Timestamp:   at,
	}
	if src.Success != nil {
		tx.Success = *src.Success
	}

	if len(body.Channels) > 0 {
		states, err := decodeChannelList(body.Channels, at)
		if err != nil {
			return domain.Transaction{}, &MalformedError{Type: TypeTransaction, Reason: "channels: " + err.Error()}
		}
		tx.ChannelsAfter = states
	}
	return tx, nil
}

// decodeChannelList accepts a list of channels, a {"channels": [...]} object
// or a {node: [...]} map. Entries without a capacity are skipped.
func decodeChannelList(raw json.RawMessage, at time.Time) ([]domain.ChannelState, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '[' {
		return channelsFrom(raw, "", at)
	}

	var wrapped struct {
		Channels json.RawMessage `json:"channels"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && len(wrapped.Channels) > 0 && wrapped.Channels[0] == '[' {
		return channelsFrom(wrapped.Channels, "", at)
	}

	var byNode map[string]json.RawMessage
	if err := json.Unmarshal(raw, &byNode); err != nil {
		return nil, err
	}
	var out []domain.ChannelState
	for node, v := range byNode {
		v = bytes.TrimSpace(v)
		if len(v) > 0 && v[0] == '{' {
			var inner struct {
				Channels json.RawMessage `json:"channels"`
			}
			if err := json.Unmarshal(v, &inner); err != nil {
				return nil, err
			}
			v = bytes.TrimSpace(inner.Channels)
		}
		if len(v) == 0 || v[0] != '[' {
			continue
		}
		states, err := channelsFrom(v, node, at)
		if err != nil {
			return nil, err
		}
		out = append(out, states...)
	}
	return out, nil
}

func channelsFrom(raw json.RawMessage, node string, at time.Time) ([]domain.ChannelState, error) {
	var list []wireChannel
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	out := make([]domain.ChannelState, 0, len(list))
	for _, wc := range list {
		if wc.Capacity == nil {
			continue
		}
		cs, err := toChannelState(wc, node, at)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

func toChannelState(wc wireChannel, node string, fallback time.Time) (domain.ChannelState, error) {
	if wc.Node == "" {
		wc.Node = node
	}
	at, err := parseTimestamp(wc.Timestamp, fallback)
	if err != nil {
		return domain.ChannelState{}, err
	}
	if wc.ChannelID == "" && (wc.Node == "" || wc.RemotePubkey == "") {
		return domain.ChannelState{}, errMissing("channel_id or node+remote_pubkey")
	}
	if wc.LocalBalance == nil {
		return domain.ChannelState{}, errMissing("local_balance")
	}

	in := domain.ChannelStateInput{
		ChannelID:    wc.ChannelID,
		Node:         wc.Node,
		NodePubkey:   wc.NodePubkey,
		RemotePubkey: wc.RemotePubkey,
		Capacity:     toInt(wc.Capacity),
		LocalBalance: toInt(wc.LocalBalance),
		BalanceRatio: wc.BalanceRatio,
		SuccessRate:  wc.SuccessRate,
		AvgAmount:    wc.AvgAmount,
		Timestamp:    at,
	}
	if wc.RemoteBalance != nil {
		v := toInt(wc.RemoteBalance)
		in.RemoteBalance = &v
	}
	if wc.TxCount != nil {
		v := toInt(wc.TxCount)
		in.TxCount = &v
	}
	cs := domain.NewChannelState(in)
	if cs.Node == "" {
		// Derived IDs are "{node}_{prefix}"; recover the node for registry bookkeeping.
		if n, _, ok := domain.SplitChannelID(cs.ChannelID); ok {
			cs.Node = n
		}
	}
	return cs, nil
}

type missingFieldError string

func (e missingFieldError) Error() string { return "missing " + string(e) }

func errMissing(field string) error { return missingFieldError(field) }

// Naive layouts are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
}

// parseTimestamp reads an RFC3339 or zone-less ISO-8601 string, or unix
// seconds given as a number or numeric string. Absent values use fallback.
func parseTimestamp(raw json.RawMessage, fallback time.Time) (time.Time, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return fallback, nil
	}

	var s string
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return fallback, nil
		}
	} else {
		s = string(raw)
	}

	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		whole, frac := math.Modf(secs)
		return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &time.ParseError{Value: s, Message: ": unrecognized timestamp"}
}

func toInt(v *float64) int64 {
	if v == nil {
		return 0
	}
	return int64(math.Round(*v))
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{'
}
