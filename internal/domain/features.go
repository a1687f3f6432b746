package domain

import "time"

// FeatureVector is one row of the feature table consumed by the model.
// Field order mirrors the fixed column order of the table.
type FeatureVector struct {
	ChannelID       string
	Timestamp       time.Time
	BalanceVelocity float64 // Δlocal_balance per hour, 0 for the first observation of a channel
	LiquidityStress float64 // max(1-ratio, ratio), within [0.5, 1.0]
	HourOfDay       float64
	DayOfWeek       float64 // Monday=0 ... Sunday=6
	BalanceRatio    float64

	// Capacity is carried alongside the row for amount sizing; it is not a model input.
	Capacity int64
}

// FeatureColumns is the fixed column order of a feature table.
var FeatureColumns = []string{
	"channel_id",
	"timestamp",
	"balance_velocity",
	"liquidity_stress",
	"hour_of_day",
	"day_of_week",
	"balance_ratio",
}

// ModelColumns are the numeric columns fed to the scaler and regressor
// (FeatureColumns without channel_id and timestamp).
var ModelColumns = FeatureColumns[2:]

// Values returns the numeric model inputs in ModelColumns order.
func (f FeatureVector) Values() []float64 {
	return []float64{
		f.BalanceVelocity,
		f.LiquidityStress,
		f.HourOfDay,
		f.DayOfWeek,
		f.BalanceRatio,
	}
}
