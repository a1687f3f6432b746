package domain

import "time"

// ArtifactTimestampLayout is the suffix format shared by a model/scaler pair.
const ArtifactTimestampLayout = "20060102_150405.000000"

// ScalerParams is the serialized form of a fitted standard scaler.
type ScalerParams struct {
	Features []string  `json:"features"`
	Mean     []float64 `json:"mean"`
	Scale    []float64 `json:"scale"`
}

// RegressorParams is the serialized form of a fitted linear regressor.
type RegressorParams struct {
	Kind      string    `json:"kind"`
	Alpha     float64   `json:"alpha"`
	Intercept float64   `json:"intercept"`
	Coef      []float64 `json:"coef"`
	Samples   int       `json:"samples"`
}

// ModelArtifact is one half of a persisted pair: the regressor with its metadata.
type ModelArtifact struct {
	Version   int64           `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Regressor RegressorParams `json:"regressor"`
}

// ScalerArtifact is the other half of a persisted pair.
type ScalerArtifact struct {
	Version   int64        `json:"version"`
	Timestamp time.Time    `json:"timestamp"`
	Scaler    ScalerParams `json:"scaler"`
}

// ArtifactPair is a model and scaler that share the same timestamp suffix.
type ArtifactPair struct {
	Stamp  string
	Model  ModelArtifact
	Scaler ScalerArtifact
}
