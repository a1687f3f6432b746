// Package features turns raw telemetry into the fixed-order feature table
// consumed by the model store.
package features

import (
	"math"
	"sort"
	"time"

	"lightning-lens/internal/domain"
)

// RequiredFields must be present on at least one row of a batch.
var RequiredFields = []string{
	"timestamp", "channel_id", "capacity",
	"local_balance", "remote_balance", "balance_ratio",
}

// Extractor validates telemetry and computes feature vectors.
// It is stateless and safe for concurrent use.
type Extractor struct{}

// NewExtractor creates a feature extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Process converts a batch of telemetry events into feature vectors.
//
// Channel states are used directly; transactions contribute their embedded
// post-payment channel states. Rows are sorted by timestamp ascending,
// velocity is a per-channel forward difference, and stress plus calendar
// features are computed per row.
func (e *Extractor) Process(events []domain.TelemetryEvent) ([]domain.FeatureVector, error) {
	if len(events) == 0 {
		return nil, &ValidationError{Reason: "empty telemetry batch"}
	}

	rows := channelRows(events)
	if len(rows) == 0 {
		return nil, &ValidationError{Reason: "no channel rows in batch", Missing: RequiredFields}
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})

	type prev struct {
		local int64
		at    time.Time
	}
	last := make(map[string]prev, len(rows))

	result := make([]domain.FeatureVector, len(rows))
	for i, row := range rows {
		fv := rowFeatures(row)

		if p, ok := last[row.ChannelID]; ok {
			hours := row.Timestamp.Sub(p.at).Hours()
			if hours > 0 {
				fv.BalanceVelocity = float64(row.LocalBalance-p.local) / hours
			}
		}
		last[row.ChannelID] = prev{local: row.LocalBalance, at: row.Timestamp}

		result[i] = fv
	}

	return result, nil
}

// FromSnapshots applies the per-row transform to live channel snapshots.
// There is no history, so balance_velocity is 0. An empty channel ID is
// derived from node and remote pubkey; channels with zero capacity or no
// resolvable ID are skipped.
func (e *Extractor) FromSnapshots(states []domain.ChannelSnapshot, at time.Time) []domain.FeatureVector {
	result := make([]domain.FeatureVector, 0, len(states))
	for _, s := range states {
		if s.Capacity <= 0 {
			continue
		}
		remote := s.RemoteBalance
		cs := domain.NewChannelState(domain.ChannelStateInput{
			ChannelID:     s.ChannelID,
			Node:          s.Node,
			RemotePubkey:  s.RemotePubkey,
			Capacity:      s.Capacity,
			LocalBalance:  s.LocalBalance,
			RemoteBalance: &remote,
			Timestamp:     at,
		})
		if cs.ChannelID == "" {
			continue
		}
		result = append(result, rowFeatures(cs))
	}
	return result
}

// Matrix returns the numeric model inputs of each row.
func Matrix(rows []domain.FeatureVector) [][]float64 {
	x := make([][]float64, len(rows))
	for i, r := range rows {
		x[i] = r.Values()
	}
	return x
}

// BalanceRatioTargets returns the balance_ratio column, the default training target.
func BalanceRatioTargets(rows []domain.FeatureVector) []float64 {
	y := make([]float64, len(rows))
	for i, r := range rows {
		y[i] = r.BalanceRatio
	}
	return y
}

// LiquidityStress returns how close a balance ratio is to either extreme, bounded to [0.5, 1].
func LiquidityStress(ratio float64) float64 {
	stress := math.Max(1-ratio, ratio)
	return math.Min(1, math.Max(0.5, stress))
}

// DayOfWeek maps a time to Monday=0 ... Sunday=6.
func DayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func rowFeatures(cs domain.ChannelState) domain.FeatureVector {
	ts := cs.Timestamp.UTC()
	ratio := 0.0
	if cs.Capacity > 0 {
		ratio = float64(cs.LocalBalance) / float64(cs.Capacity)
	}
	return domain.FeatureVector{
		ChannelID:       cs.ChannelID,
		Timestamp:       cs.Timestamp,
		LiquidityStress: LiquidityStress(ratio),
		HourOfDay:       float64(ts.Hour()),
		DayOfWeek:       float64(DayOfWeek(ts)),
		BalanceRatio:    cs.BalanceRatio,
		Capacity:        cs.Capacity,
	}
}

// channelRows flattens events into channel states that carry every required field.
func channelRows(events []domain.TelemetryEvent) []domain.ChannelState {
	rows := make([]domain.ChannelState, 0, len(events))
	for _, ev := range events {
		switch e := ev.(type) {
		case domain.ChannelState:
			if e.HasRequiredFields() {
				rows = append(rows, e)
			}
		case domain.Transaction:
			for _, cs := range e.ChannelsAfter {
				if cs.Timestamp.IsZero() {
					cs.Timestamp = e.Timestamp
				}
				if cs.HasRequiredFields() {
					rows = append(rows, cs)
				}
			}
		}
	}
	return rows
}
