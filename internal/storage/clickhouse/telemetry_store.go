package clickhouse

import (
	"context"
	"fmt"
	"time"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/observability"
	"lightning-lens/internal/storage"
)

// TelemetryStore implements storage.TelemetryStore using ClickHouse.
// Tables are append-only MergeTree; duplicate observations are kept.
type TelemetryStore struct {
	conn *Conn
}

// NewTelemetryStore creates a new TelemetryStore.
func NewTelemetryStore(conn *Conn) *TelemetryStore {
	return &TelemetryStore{conn: conn}
}

// Compile-time interface check.
var _ storage.TelemetryStore = (*TelemetryStore)(nil)

// InsertChannelStates appends channel states in a single batch.
func (s *TelemetryStore) InsertChannelStates(ctx context.Context, states []domain.ChannelState) (err error) {
	if len(states) == 0 {
		return nil
	}
	for _, cs := range states {
		if cs.ChannelID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observability.RecordDBQuery("clickhouse", "insert_channel_states", time.Since(start), err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO channel_states (
			channel_id, node, node_pubkey, remote_pubkey,
			capacity, local_balance, remote_balance, balance_ratio,
			tx_count, success_rate, avg_amount, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, cs := range states {
		err = batch.Append(
			cs.ChannelID, cs.Node, cs.NodePubkey, cs.RemotePubkey,
			cs.Capacity, cs.LocalBalance, cs.RemoteBalance, cs.BalanceRatio,
			cs.TxCount, cs.SuccessRate, cs.AvgAmount, cs.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// InsertTransactions appends transactions in a single batch.
func (s *TelemetryStore) InsertTransactions(ctx context.Context, txs []domain.Transaction) (err error) {
	if len(txs) == 0 {
		return nil
	}

	start := time.Now()
	defer func() { observability.RecordDBQuery("clickhouse", "insert_transactions", time.Since(start), err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO transactions (
			sender, receiver, amount, success, fee, description, observed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, tx := range txs {
		err = batch.Append(
			tx.Sender, tx.Receiver, tx.Amount, tx.Success, tx.Fee, tx.Description, tx.Timestamp.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// ChannelHistory retrieves observations of a channel within [start, end] (inclusive).
func (s *TelemetryStore) ChannelHistory(ctx context.Context, channelID string, start, end time.Time) ([]domain.ChannelState, error) {
	query := `
		SELECT
			channel_id, node, node_pubkey, remote_pubkey,
			capacity, local_balance, remote_balance, balance_ratio,
			tx_count, success_rate, avg_amount, observed_at
		FROM channel_states
		WHERE channel_id = ? AND observed_at >= ? AND observed_at <= ?
		ORDER BY observed_at ASC
	`

	rows, err := s.conn.Query(ctx, query, channelID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query channel history: %w", err)
	}
	defer rows.Close()

	return scanChannelStates(rows)
}

func scanChannelStates(rows chRows) ([]domain.ChannelState, error) {
	var states []domain.ChannelState

	for rows.Next() {
		var cs domain.ChannelState
		err := rows.Scan(
			&cs.ChannelID, &cs.Node, &cs.NodePubkey, &cs.RemotePubkey,
			&cs.Capacity, &cs.LocalBalance, &cs.RemoteBalance, &cs.BalanceRatio,
			&cs.TxCount, &cs.SuccessRate, &cs.AvgAmount, &cs.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan channel state row: %w", err)
		}
		states = append(states, cs)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channel state rows: %w", err)
	}

	return states, nil
}
