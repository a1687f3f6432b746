// Package snapshot persists the live model as timestamped artifact pairs.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/model"
	"lightning-lens/internal/observability"
	"lightning-lens/internal/storage"
)

// ModelSource is the part of the model store the persister needs.
type ModelSource interface {
	Export() (domain.ArtifactPair, error)
	Restore(pair domain.ArtifactPair) (*model.Model, error)
}

// PersisterOptions configures a Persister.
type PersisterOptions struct {
	Artifacts   storage.ArtifactStore // Required
	Model       ModelSource           // Required
	MinInterval time.Duration         // Default: 5m, gap enforced by MaybeSave
	Logger      logrus.FieldLogger
	Now         func() time.Time
}

// Persister writes and restores model/scaler pairs.
type Persister struct {
	artifacts   storage.ArtifactStore
	model       ModelSource
	minInterval time.Duration
	logger      logrus.FieldLogger
	now         func() time.Time

	mu           sync.Mutex
	lastSave     time.Time
	lastStamp    string
	lastVersion  int64
	lastLocation string
}

// NewPersister creates a Persister.
func NewPersister(opts PersisterOptions) *Persister {
	minInterval := opts.MinInterval
	if minInterval <= 0 {
		minInterval = 5 * time.Minute
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Persister{
		artifacts:   opts.Artifacts,
		model:       opts.Model,
		minInterval: minInterval,
		logger:      logger.WithField("component", "snapshot"),
		now:         now,
	}
}

// Save persists the live model and returns the artifact location.
// Saving a model version that was already persisted returns the earlier
// location. A newer version whose stamp collides with the last saved one
// is written under the stamp suffixed with its version. A restored model
// counts as persisted and its location is reported as its stamp.
func (p *Persister) Save(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.saveLocked(ctx)
}

func (p *Persister) saveLocked(ctx context.Context) (string, error) {
	pair, err := p.model.Export()
	if err != nil {
		return "", &PersistenceError{Op: "export", Err: err}
	}
	if pair.Model.Version == p.lastVersion && p.lastLocation != "" {
		return p.lastLocation, nil
	}
	if pair.Stamp <= p.lastStamp {
		pair.Stamp = fmt.Sprintf("%s_v%d", p.lastStamp, pair.Model.Version)
	}

	loc, err := p.artifacts.Save(ctx, pair)
	observability.RecordSnapshot(err)
	if err != nil {
		return "", &PersistenceError{Op: "save " + pair.Stamp, Err: err}
	}

	p.lastSave = p.now()
	p.lastStamp = pair.Stamp
	p.lastVersion = pair.Model.Version
	p.lastLocation = loc
	p.logger.WithFields(logrus.Fields{
		"location": loc,
		"version":  pair.Model.Version,
	}).Info("model snapshot saved")
	return loc, nil
}

// MaybeSave saves only when the model is fitted and at least MinInterval
// has passed since the last save.
func (p *Persister) MaybeSave(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.lastSave.IsZero() && p.now().Sub(p.lastSave) < p.minInterval {
		return false, nil
	}
	if _, err := p.saveLocked(ctx); err != nil {
		if errors.Is(err, model.ErrNotFitted) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Load restores the pair with the given stamp into the model store.
func (p *Persister) Load(ctx context.Context, stamp string) (*model.Model, error) {
	pair, err := p.artifacts.Load(ctx, stamp)
	if err != nil {
		return nil, &PersistenceError{Op: "load " + stamp, Err: err}
	}
	return p.restore(pair)
}

// LoadLatest restores the newest complete pair. When nothing has been
// saved yet the error matches storage.ErrNotFound.
func (p *Persister) LoadLatest(ctx context.Context) (*model.Model, error) {
	pair, err := p.artifacts.Latest(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "load latest", Err: err}
	}
	return p.restore(pair)
}

func (p *Persister) restore(pair domain.ArtifactPair) (*model.Model, error) {
	m, err := p.model.Restore(pair)
	if err != nil {
		return nil, &PersistenceError{Op: "restore " + pair.Stamp, Err: err}
	}

	p.mu.Lock()
	p.lastStamp = pair.Stamp
	p.lastVersion = m.Version
	p.lastLocation = pair.Stamp
	p.mu.Unlock()

	p.logger.WithFields(logrus.Fields{
		"stamp":   pair.Stamp,
		"version": m.Version,
	}).Info("model snapshot restored")
	return m, nil
}

// List returns the stamps of stored pairs, oldest first.
func (p *Persister) List(ctx context.Context) ([]string, error) {
	stamps, err := p.artifacts.List(ctx)
	if err != nil {
		return nil, &PersistenceError{Op: "list", Err: err}
	}
	return stamps, nil
}

// Run saves on a cron schedule (for example "@every 5m") until ctx is done.
// Failures are logged and retried on the next tick.
func (p *Persister) Run(ctx context.Context, schedule string) error {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := p.Save(ctx); err != nil {
			if errors.Is(err, model.ErrNotFitted) {
				p.logger.Debug("skipping scheduled snapshot, model not fitted")
				return
			}
			p.logger.WithError(err).Warn("scheduled snapshot failed")
		}
	})
	if err != nil {
		return fmt.Errorf("parse snapshot schedule %q: %w", schedule, err)
	}

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return ctx.Err()
}
