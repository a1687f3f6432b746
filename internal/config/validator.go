package config

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError collects every invalid field.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Problems, "; ")
}

// ErrInvalid is matched by every ValidationError.
var ErrInvalid = errors.New("invalid configuration")

// Is makes errors.Is(err, ErrInvalid) match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalid
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	l := c.Learning
	if l.BufferSize < 1 {
		add("learning.buffer_size must be >= 1, got %d", l.BufferSize)
	}
	if l.MinSamplesForUpdate < 1 {
		add("learning.min_samples_for_update must be >= 1, got %d", l.MinSamplesForUpdate)
	}
	if l.UpdateInterval < 1 {
		add("learning.update_interval must be >= 1, got %d", l.UpdateInterval)
	}
	if l.MinLearningRate <= 0 {
		add("learning.min_learning_rate must be > 0, got %g", l.MinLearningRate)
	}
	if l.MinLearningRate > l.MaxLearningRate {
		add("learning.min_learning_rate (%g) exceeds max_learning_rate (%g)", l.MinLearningRate, l.MaxLearningRate)
	}
	if l.InitialLearningRate < l.MinLearningRate || l.InitialLearningRate > l.MaxLearningRate {
		add("learning.initial_learning_rate %g outside [%g, %g]", l.InitialLearningRate, l.MinLearningRate, l.MaxLearningRate)
	}
	if l.RidgeAlpha < 0 {
		add("learning.ridge_alpha must be >= 0, got %g", l.RidgeAlpha)
	}

	r := c.Recommend
	if r.Threshold < 0 {
		add("recommend.threshold must be >= 0, got %g", r.Threshold)
	}
	if r.TopK < 1 {
		add("recommend.top_k must be >= 1, got %d", r.TopK)
	}
	if r.MinTx < 0 {
		add("recommend.min_tx must be >= 0, got %d", r.MinTx)
	}
	if r.MinTx > r.MaxTx {
		add("recommend.min_tx (%d) exceeds max_tx (%d)", r.MinTx, r.MaxTx)
	}

	switch c.Snapshot.Backend {
	case BackendFile:
		if c.Snapshot.Dir == "" {
			add("snapshot.dir is required for the file backend")
		}
	case BackendPostgres:
		if c.Storage.PostgresDSN == "" {
			add("storage.postgres_dsn is required for the postgres snapshot backend")
		}
	case BackendMemory:
	default:
		add("unknown snapshot.backend %q (want file, postgres or memory)", c.Snapshot.Backend)
	}

	if c.Storage.ArchiveTelemetry && c.Storage.ClickhouseDSN == "" {
		add("storage.clickhouse_dsn is required when archive_telemetry is enabled")
	}
	if c.API.RateLimitRPS < 0 {
		add("api.rate_limit_rps must be >= 0, got %g", c.API.RateLimitRPS)
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		add("unknown log.format %q (want text or json)", c.Log.Format)
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
