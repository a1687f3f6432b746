package domain

import "time"

// Recommendation is a suggested rebalancing transfer for one channel.
type Recommendation struct {
	FromNode         string  `json:"from_node"`
	ToNode           string  `json:"to_node"`
	Amount           int64   `json:"amount"`
	Reason           string  `json:"reason"`
	ChannelID        string  `json:"channel_id"`
	AdjustmentNeeded float64 `json:"adjustment_needed"`
}

// RecommendationBatch is what gets pushed to downstream sinks.
type RecommendationBatch struct {
	BatchID      string           `json:"batch_id"`
	GeneratedAt  time.Time        `json:"generated_at"`
	ModelVersion int64            `json:"model_version"`
	LearningRate float64          `json:"learning_rate"`
	Suggestions  []Recommendation `json:"suggestions"`
}
