// Package delivery pushes recommendation batches to downstream sinks.
// Delivery is fire-and-forget: failures are logged and dropped.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/observability"
)

// Sink receives recommendation batches.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, batch domain.RecommendationBatch) error
}

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	Sinks   []Sink
	Timeout time.Duration // Default: 5s
	// OnError observes every failed delivery. Optional.
	OnError func(*DeliveryError)
	Logger  logrus.FieldLogger
}

// Dispatcher fans a batch out to every sink on its own goroutine, each
// bounded by the delivery timeout. Dispatch never blocks the caller.
type Dispatcher struct {
	sinks   []Sink
	timeout time.Duration
	onError func(*DeliveryError)
	logger  logrus.FieldLogger
	wg      sync.WaitGroup
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(opts DispatcherOptions) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Dispatcher{
		sinks:   opts.Sinks,
		timeout: timeout,
		onError: opts.OnError,
		logger:  logger.WithField("component", "delivery"),
	}
}

// Sinks returns the configured sink names.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, len(d.sinks))
	for i, s := range d.sinks {
		names[i] = s.Name()
	}
	return names
}

// Dispatch starts delivering batch to every sink and returns immediately.
func (d *Dispatcher) Dispatch(batch domain.RecommendationBatch) {
	for _, sink := range d.sinks {
		d.wg.Add(1)
		go func(s Sink) {
			defer d.wg.Done()
			_ = d.deliver(s, batch)
		}(sink)
	}
}

func (d *Dispatcher) deliver(s Sink, batch domain.RecommendationBatch) error {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	err := s.Deliver(ctx, batch)
	observability.RecordDelivery(s.Name(), time.Since(start), err)

	log := d.logger.WithFields(logrus.Fields{
		"sink":        s.Name(),
		"batch_id":    batch.BatchID,
		"suggestions": len(batch.Suggestions),
	})
	if err != nil {
		derr := &DeliveryError{Sink: s.Name(), Err: err}
		log.WithError(err).Warn("delivery dropped")
		if d.onError != nil {
			d.onError(derr)
		}
		return derr
	}
	log.Debug("batch delivered")
	return nil
}

// Wait blocks until in-flight deliveries finish. Used on shutdown.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
