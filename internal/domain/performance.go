package domain

import "time"

// PerformanceSample records one model evaluation.
// Score is 1 / (1 + mean absolute error); higher is better.
type PerformanceSample struct {
	Timestamp    time.Time `json:"timestamp"`
	Score        float64   `json:"score"`
	LearningRate float64   `json:"learning_rate"`
	ModelVersion int64     `json:"model_version"`
}
