package ingestion

import (
	"context"
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// RunnerOptions configures a Runner.
type RunnerOptions struct {
	Feed     *FeedClient // nil disables the WebSocket feed
	Intake   *Intake     // Required
	Archiver *Archiver
	Logger   logrus.FieldLogger
}

// Runner drives continuous ingestion: the feed reader and the archive flusher.
type Runner struct {
	feed     *FeedClient
	intake   *Intake
	archiver *Archiver
	logger   logrus.FieldLogger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Runner{
		feed:     opts.Feed,
		intake:   opts.Intake,
		archiver: opts.Archiver,
		logger:   logger.WithField("component", "ingestion"),
	}
}

// Run blocks until ctx is cancelled. Message failures are logged by the
// intake and never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	if r.archiver != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.archiver.Run(ctx)
		}()
	}

	if r.feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.feed.Run(ctx, r.handle)
		}()
	}

	r.logger.WithFields(logrus.Fields{
		"feed":    r.feed != nil,
		"archive": r.archiver != nil,
	}).Info("ingestion runner started")

	<-ctx.Done()
	wg.Wait()
	r.logger.Info("ingestion runner stopped")
	return ctx.Err()
}

func (r *Runner) handle(message []byte) {
	res, err := r.intake.HandleMessage(message)
	if err != nil {
		if errors.Is(err, ErrIgnored) {
			r.logger.WithField("bytes", len(message)).Debug("non-telemetry message ignored")
		}
		return
	}
	if res.Triggered {
		r.logger.WithField("events", res.Events).Debug("message triggered retrain")
	}
}
