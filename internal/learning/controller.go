package learning

import (
	"math"
	"sync"
	"time"

	"lightning-lens/internal/domain"
)

// ControllerOptions configures a Controller.
type ControllerOptions struct {
	InitialRate float64 // Default: 0.1
	MinRate     float64 // Default: 0.01
	MaxRate     float64 // Default: 0.5
	// HistoryLimit caps retained performance samples. 0 keeps everything.
	HistoryLimit int
	Now          func() time.Time
}

// Controller tracks model performance and tunes the learning rate.
// The rate does not parameterize the regressor; it is published as a
// stability signal for downstream consumers.
type Controller struct {
	mu           sync.RWMutex
	rate         float64
	minRate      float64
	maxRate      float64
	historyLimit int
	history      []domain.PerformanceSample
	now          func() time.Time
}

// NewController creates a controller at the initial learning rate.
func NewController(opts ControllerOptions) *Controller {
	minRate := opts.MinRate
	if minRate <= 0 {
		minRate = 0.01
	}
	maxRate := opts.MaxRate
	if maxRate <= 0 {
		maxRate = 0.5
	}
	rate := opts.InitialRate
	if rate <= 0 {
		rate = 0.1
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		rate:         clamp(rate, minRate, maxRate),
		minRate:      minRate,
		maxRate:      maxRate,
		historyLimit: opts.HistoryLimit,
		now:          now,
	}
}

// Evaluate returns 1 / (1 + MAE) of predictions against targets, in (0, 1].
// ok is false for empty or mismatched input, which has no score.
func Evaluate(predictions, targets []float64) (score float64, ok bool) {
	if len(predictions) == 0 || len(predictions) != len(targets) {
		return 0, false
	}
	var sum float64
	for i, p := range predictions {
		sum += math.Abs(p - targets[i])
	}
	mae := sum / float64(len(predictions))
	return 1 / (1 + mae), true
}

// Adjust grows the rate by 10% when current beats previous and shrinks it
// by 10% otherwise, staying within [MinRate, MaxRate]. The current score is
// appended to the performance history.
func (c *Controller) Adjust(current, previous float64, modelVersion int64) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if current > previous {
		c.rate = math.Min(c.rate*1.1, c.maxRate)
	} else {
		c.rate = math.Max(c.rate*0.9, c.minRate)
	}
	c.appendLocked(current, modelVersion)
	return c.rate
}

// Record appends a sample without touching the rate. Used for the first
// evaluation, which has nothing to compare against.
func (c *Controller) Record(score float64, modelVersion int64) domain.PerformanceSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(score, modelVersion)
}

func (c *Controller) appendLocked(score float64, modelVersion int64) domain.PerformanceSample {
	s := domain.PerformanceSample{
		Timestamp:    c.now(),
		Score:        score,
		LearningRate: c.rate,
		ModelVersion: modelVersion,
	}
	c.history = append(c.history, s)
	if c.historyLimit > 0 && len(c.history) > c.historyLimit {
		c.history = append(c.history[:0:0], c.history[len(c.history)-c.historyLimit:]...)
	}
	return s
}

// Rate returns the current learning rate.
func (c *Controller) Rate() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rate
}

// History returns a copy of the performance history, oldest first.
func (c *Controller) History() []domain.PerformanceSample {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.PerformanceSample, len(c.history))
	copy(out, c.history)
	return out
}

// Len is the number of retained samples.
func (c *Controller) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.history)
}

// Latest returns the last sample appended.
func (c *Controller) Latest() (domain.PerformanceSample, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.history) == 0 {
		return domain.PerformanceSample{}, false
	}
	return c.history[len(c.history)-1], true
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
