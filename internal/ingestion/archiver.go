package ingestion

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/observability"
	"lightning-lens/internal/storage"
)

// ArchiverOptions configures an Archiver.
type ArchiverOptions struct {
	Store         storage.TelemetryStore // Required
	BatchSize     int                    // Default: 500
	FlushInterval time.Duration          // Default: 5s
	Logger        logrus.FieldLogger
}

// Archiver batches telemetry into a TelemetryStore. Archiving is best
// effort: a failed batch is logged, counted and dropped.
type Archiver struct {
	store         storage.TelemetryStore
	batchSize     int
	flushInterval time.Duration
	logger        logrus.FieldLogger

	mu     sync.Mutex
	states []domain.ChannelState
	txs    []domain.Transaction
	full   chan struct{}
}

// NewArchiver creates an Archiver. Call Run to flush in the background.
func NewArchiver(opts ArchiverOptions) *Archiver {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = 500
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Archiver{
		store:         opts.Store,
		batchSize:     batchSize,
		flushInterval: interval,
		logger:        logger.WithField("component", "archiver"),
		full:          make(chan struct{}, 1),
	}
}

// Add queues an event. Post-payment channel states of a transaction are
// archived as channel states.
func (a *Archiver) Add(ev domain.TelemetryEvent) {
	a.mu.Lock()
	switch e := ev.(type) {
	case domain.ChannelState:
		a.states = append(a.states, e)
	case domain.Transaction:
		a.txs = append(a.txs, e)
		for _, cs := range e.ChannelsAfter {
			if cs.Timestamp.IsZero() {
				cs.Timestamp = e.Timestamp
			}
			a.states = append(a.states, cs)
		}
	}
	pending := len(a.states) + len(a.txs)
	a.mu.Unlock()

	if pending >= a.batchSize {
		select {
		case a.full <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued rows.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.states) + len(a.txs)
}

// Run flushes on every interval and whenever a batch fills up. Remaining
// rows are flushed on shutdown.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			_ = a.Flush(flushCtx)
			cancel()
			return ctx.Err()
		case <-ticker.C:
			_ = a.Flush(ctx)
		case <-a.full:
			_ = a.Flush(ctx)
		}
	}
}

// Flush writes every queued row.
func (a *Archiver) Flush(ctx context.Context) error {
	a.mu.Lock()
	states, txs := a.states, a.txs
	a.states, a.txs = nil, nil
	a.mu.Unlock()

	var firstErr error
	if len(states) > 0 {
		err := a.store.InsertChannelStates(ctx, states)
		observability.RecordArchive(len(states), err)
		if err != nil {
			a.logger.WithError(err).WithField("rows", len(states)).Warn("archive channel states")
			firstErr = err
		}
	}
	if len(txs) > 0 {
		err := a.store.InsertTransactions(ctx, txs)
		observability.RecordArchive(len(txs), err)
		if err != nil {
			a.logger.WithError(err).WithField("rows", len(txs)).Warn("archive transactions")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
