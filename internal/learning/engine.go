// Package learning runs the online-learning loop: it buffers telemetry,
// retrains the model on a dedicated worker and tunes the learning rate.
package learning

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/features"
	"lightning-lens/internal/model"
	"lightning-lens/internal/observability"
	"lightning-lens/internal/recommend"
	"lightning-lens/internal/storage"
)

// ChannelSource provides the live network view used for recommendations.
type ChannelSource interface {
	CurrentChannelStates() []domain.ChannelSnapshot
	KnownNodes() []domain.Node
}

// Snapshotter persists and restores the model.
type Snapshotter interface {
	Save(ctx context.Context) (string, error)
	MaybeSave(ctx context.Context) (bool, error)
	LoadLatest(ctx context.Context) (*model.Model, error)
}

// Dispatcher hands recommendation batches to downstream sinks without blocking.
type Dispatcher interface {
	Dispatch(batch domain.RecommendationBatch)
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	Buffer     BufferOptions
	Controller ControllerOptions
	Store      *model.Store // Required
	Generator  *recommend.Generator
	Extractor  *features.Extractor

	Channels     ChannelSource
	Snapshots    Snapshotter
	Dispatcher   Dispatcher
	Performance  storage.PerformanceStore
	PushInterval time.Duration // 0 disables periodic recommendation push
	// PushOnRetrain generates and dispatches recommendations after each successful retrain.
	PushOnRetrain bool

	Logger logrus.FieldLogger
	Now    func() time.Time
}

// Engine is the service object shared by every request path.
type Engine struct {
	mu     sync.Mutex // guards buffer
	buffer *EventBuffer

	extractor  *features.Extractor
	store      *model.Store
	controller *Controller
	generator  *recommend.Generator

	channels      ChannelSource
	snapshots     Snapshotter
	dispatcher    Dispatcher
	performance   storage.PerformanceStore
	pushInterval  time.Duration
	pushOnRetrain bool

	// mailbox holds at most one pending retrain batch.
	mailbox chan []domain.TelemetryEvent

	retrains        atomic.Int64
	retrainFailures atomic.Int64
	coalesced       atomic.Int64
	running         atomic.Bool

	logger logrus.FieldLogger
	now    func() time.Time
}

// NewEngine creates an Engine. Call Run to start the retrain worker.
func NewEngine(opts EngineOptions) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	extractor := opts.Extractor
	if extractor == nil {
		extractor = features.NewExtractor()
	}
	store := opts.Store
	if store == nil {
		store = model.NewStore(model.StoreOptions{MinSamples: opts.Buffer.MinSamples, Now: now})
	}
	ctrlOpts := opts.Controller
	if ctrlOpts.Now == nil {
		ctrlOpts.Now = now
	}
	generator := opts.Generator
	if generator == nil {
		generator = recommend.NewGenerator(recommend.GeneratorOptions{
			Predictor: store,
			Extractor: extractor,
			Logger:    logger,
			Now:       now,
		})
	}

	return &Engine{
		buffer:        NewEventBuffer(opts.Buffer),
		extractor:     extractor,
		store:         store,
		controller:    NewController(ctrlOpts),
		generator:     generator,
		channels:      opts.Channels,
		snapshots:     opts.Snapshots,
		dispatcher:    opts.Dispatcher,
		performance:   opts.Performance,
		pushInterval:  opts.PushInterval,
		pushOnRetrain: opts.PushOnRetrain,
		mailbox:       make(chan []domain.TelemetryEvent, 1),
		logger:        logger.WithField("component", "learning"),
		now:           now,
	}
}

// SubmitEvent adds one telemetry event to the buffer and reports whether
// it triggered a retrain. The retrain itself runs on the worker started by Run.
func (e *Engine) SubmitEvent(ev domain.TelemetryEvent) bool {
	if ev == nil {
		return false
	}

	e.mu.Lock()
	triggered := e.buffer.Add(ev)
	size, count := e.buffer.Len(), e.buffer.Count()
	var batch []domain.TelemetryEvent
	if triggered {
		batch = e.buffer.Events()
		e.enqueueLocked(batch)
	}
	e.mu.Unlock()

	observability.RecordEventReceived(string(ev.Kind()))
	observability.UpdateBuffer(size, count)
	if triggered {
		e.logger.WithFields(logrus.Fields{
			"buffer_size": size,
			"event_count": count,
		}).Debug("retrain triggered")
	}
	return triggered
}

// enqueueLocked places batch in the mailbox, replacing a pending batch the
// worker has not picked up yet. Callers hold e.mu, so there is one sender.
func (e *Engine) enqueueLocked(batch []domain.TelemetryEvent) {
	for {
		select {
		case e.mailbox <- batch:
			return
		default:
		}
		select {
		case <-e.mailbox:
			e.coalesced.Add(1)
			observability.RecordRetrainCoalesced()
		default:
		}
	}
}

// Run starts the retrain worker and the optional recommendation push loop.
// It blocks until ctx is cancelled. A retrain in progress always completes.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}
	defer e.running.Store(false)

	e.logger.WithFields(logrus.Fields{
		"buffer_size":   e.buffer.Capacity(),
		"push_interval": e.pushInterval,
	}).Info("learning engine started")

	var pushC <-chan time.Time
	if e.pushInterval > 0 && e.dispatcher != nil {
		ticker := time.NewTicker(e.pushInterval)
		defer ticker.Stop()
		pushC = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("learning engine stopping")
			return ctx.Err()

		case batch := <-e.mailbox:
			// Detached from ctx so shutdown never aborts a fit halfway.
			_ = e.Retrain(context.WithoutCancel(ctx), batch)

		case <-pushC:
			e.PushRecommendations(ctx)
		}
	}
}

// Retrain extracts features from events, scores the current model on them,
// refits, tunes the learning rate and persists opportunistically. It is
// called by the worker; tests and offline tools may call it directly.
func (e *Engine) Retrain(ctx context.Context, events []domain.TelemetryEvent) error {
	start := e.now()
	log := e.logger.WithField("events", len(events))

	rows, err := e.extractor.Process(events)
	if err != nil {
		e.retrainFailed(log, "validation", err, start)
		return err
	}
	targets := features.BalanceRatioTargets(rows)

	// Score the live model on data it has not seen before it is replaced.
	var score float64
	scored := false
	if e.store.Fitted() {
		preds, err := e.store.Predict(rows)
		if err != nil {
			log.WithError(err).Warn("evaluation skipped")
		} else if score, scored = Evaluate(preds, targets); !scored {
			log.WithField("rows", len(rows)).Warn("evaluation skipped, prediction count mismatch")
		}
	}

	m, err := e.store.Fit(rows, targets)
	if err != nil {
		reason := "fit"
		if errors.Is(err, model.ErrInsufficientSamples) {
			reason = "insufficient_samples"
		}
		e.retrainFailed(log.WithField("rows", len(rows)), reason, err, start)
		return err
	}
	e.retrains.Add(1)
	observability.RecordRetrain("success", e.now().Sub(start))

	if scored {
		e.recordScore(ctx, score, m.Version)
	}
	observability.UpdateModel(m.Version, e.controller.Rate(), score)

	log.WithFields(logrus.Fields{
		"rows":          len(rows),
		"version":       m.Version,
		"score":         score,
		"learning_rate": e.controller.Rate(),
	}).Info("model retrained")

	if e.snapshots != nil {
		if _, err := e.snapshots.MaybeSave(ctx); err != nil {
			log.WithError(err).Warn("opportunistic snapshot failed")
		}
	}
	if e.pushOnRetrain {
		e.PushRecommendations(ctx)
	}
	return nil
}

func (e *Engine) retrainFailed(log logrus.FieldLogger, reason string, err error, start time.Time) {
	e.retrainFailures.Add(1)
	observability.RecordRetrain("error", e.now().Sub(start))
	log.WithError(err).WithField("reason", reason).Warn("retrain skipped")
}

func (e *Engine) recordScore(ctx context.Context, score float64, version int64) {
	var sample domain.PerformanceSample
	if prev, ok := e.controller.Latest(); ok {
		e.controller.Adjust(score, prev.Score, version)
		sample, _ = e.controller.Latest()
	} else {
		sample = e.controller.Record(score, version)
	}

	if e.performance != nil {
		if err := e.performance.Insert(ctx, sample); err != nil {
			e.logger.WithError(err).Warn("store performance sample")
		}
	}
}

// PredictOptimalRatio predicts the optimal local balance ratio for one
// channel. It returns 0.5 before the model is fitted and on any failure.
func (e *Engine) PredictOptimalRatio(capacity, localBalance, remoteBalance int64) float64 {
	if capacity <= 0 {
		return model.DefaultPrediction
	}
	rows := e.extractor.FromSnapshots([]domain.ChannelSnapshot{{
		ChannelID:     "predict",
		Capacity:      capacity,
		LocalBalance:  localBalance,
		RemoteBalance: remoteBalance,
	}}, e.now())

	preds, err := e.store.Predict(rows)
	if err != nil || len(preds) != 1 {
		e.logger.WithError(err).Warn("single-channel prediction failed")
		return model.DefaultPrediction
	}
	return preds[0]
}

// Recommendations generates suggestions over the current channel states.
func (e *Engine) Recommendations(req recommend.Request) []domain.Recommendation {
	if e.channels == nil {
		return []domain.Recommendation{}
	}
	states := e.channels.CurrentChannelStates()
	nodes := recommend.NewNodeIndex(e.channels.KnownNodes())
	return e.generator.Generate(states, nodes, req)
}

// RecommendationBatch wraps the current recommendations with delivery metadata.
func (e *Engine) RecommendationBatch(req recommend.Request) domain.RecommendationBatch {
	return domain.RecommendationBatch{
		BatchID:      uuid.NewString(),
		GeneratedAt:  e.now().UTC(),
		ModelVersion: e.store.Version(),
		LearningRate: e.controller.Rate(),
		Suggestions:  e.Recommendations(req),
	}
}

// PushRecommendations hands a fresh batch to the dispatcher. Empty batches
// and unfitted models are not pushed.
func (e *Engine) PushRecommendations(_ context.Context) {
	if e.dispatcher == nil || !e.store.Fitted() {
		return
	}
	batch := e.RecommendationBatch(recommend.Request{})
	if len(batch.Suggestions) == 0 {
		return
	}
	e.dispatcher.Dispatch(batch)
}

// Snapshot persists the live model and returns the artifact location.
func (e *Engine) Snapshot(ctx context.Context) (string, error) {
	if e.snapshots == nil {
		return "", errors.New("snapshots are not configured")
	}
	return e.snapshots.Save(ctx)
}

// LoadLatest restores the newest persisted model, if any.
func (e *Engine) LoadLatest(ctx context.Context) (*model.Model, error) {
	if e.snapshots == nil {
		return nil, errors.New("snapshots are not configured")
	}
	m, err := e.snapshots.LoadLatest(ctx)
	if err != nil {
		return nil, err
	}
	observability.UpdateModel(m.Version, e.controller.Rate(), 0)
	return m, nil
}

// Performance returns the controller's evaluation history.
func (e *Engine) Performance() []domain.PerformanceSample {
	return e.controller.History()
}

// Stats is a point-in-time view of the engine.
type Stats struct {
	BufferSize         int       `json:"buffer_size"`
	BufferCapacity     int       `json:"buffer_capacity"`
	EventCount         int64     `json:"event_count"`
	Fitted             bool      `json:"fitted"`
	ModelVersion       int64     `json:"model_version"`
	LastUpdate         time.Time `json:"last_update"`
	LearningRate       float64   `json:"learning_rate"`
	LastScore          *float64  `json:"last_score,omitempty"`
	PerformanceSamples int       `json:"performance_samples"`
	Retrains           int64     `json:"retrains"`
	RetrainFailures    int64     `json:"retrain_failures"`
	RetrainsCoalesced  int64     `json:"retrains_coalesced"`
	PendingRetrain     bool      `json:"pending_retrain"`
}

// Stats returns the current engine state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	size, count, capacity := e.buffer.Len(), e.buffer.Count(), e.buffer.Capacity()
	e.mu.Unlock()

	s := Stats{
		BufferSize:         size,
		BufferCapacity:     capacity,
		EventCount:         count,
		Fitted:             e.store.Fitted(),
		ModelVersion:       e.store.Version(),
		LearningRate:       e.controller.Rate(),
		PerformanceSamples: e.controller.Len(),
		Retrains:           e.retrains.Load(),
		RetrainFailures:    e.retrainFailures.Load(),
		RetrainsCoalesced:  e.coalesced.Load(),
		PendingRetrain:     len(e.mailbox) > 0,
	}
	if m := e.store.Current(); m != nil {
		s.LastUpdate = m.UpdatedAt
	}
	if last, ok := e.controller.Latest(); ok {
		score := last.Score
		s.LastScore = &score
	}
	return s
}
