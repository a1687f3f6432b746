package ingestion

import (
	"errors"

	"github.com/sirupsen/logrus"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/observability"
)

// Submitter accepts telemetry for learning.
type Submitter interface {
	SubmitEvent(ev domain.TelemetryEvent) bool
}

// Observer tracks the live network view.
type Observer interface {
	Observe(ev domain.TelemetryEvent)
}

// IntakeOptions configures an Intake.
type IntakeOptions struct {
	Engine   Submitter // Required
	Registry Observer
	Archiver *Archiver
	Decoder  Decoder
	Logger   logrus.FieldLogger
}

// Intake is the single entry point for telemetry, shared by the WebSocket
// feed and the HTTP API.
type Intake struct {
	engine   Submitter
	registry Observer
	archiver *Archiver
	decoder  Decoder
	logger   logrus.FieldLogger
}

// Result summarizes one handled message.
type Result struct {
	Events    int  `json:"events"`
	Triggered bool `json:"triggered"`
	// States lists the channel states carried directly by the message.
	States []domain.ChannelState `json:"-"`
}

// NewIntake creates an Intake.
func NewIntake(opts IntakeOptions) *Intake {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Intake{
		engine:   opts.Engine,
		registry: opts.Registry,
		archiver: opts.Archiver,
		decoder:  opts.Decoder,
		logger:   logger.WithField("component", "ingestion"),
	}
}

// Submit routes one event to the registry, the archive and the engine.
// It reports whether the event triggered a retrain.
func (in *Intake) Submit(ev domain.TelemetryEvent) bool {
	if in.registry != nil {
		in.registry.Observe(ev)
	}
	if in.archiver != nil {
		in.archiver.Add(ev)
	}
	return in.engine.SubmitEvent(ev)
}

// HandleMessage decodes a raw message and submits every event in it.
// Decoding failures are counted and returned; they never reach the engine.
func (in *Intake) HandleMessage(data []byte) (Result, error) {
	events, err := in.decoder.Decode(data)
	if err != nil {
		if errors.Is(err, ErrIgnored) {
			return Result{}, err
		}
		observability.RecordEventRejected("malformed")
		in.logger.WithError(err).WithField("bytes", len(data)).Warn("telemetry rejected")
		return Result{}, err
	}

	res := Result{Events: len(events)}
	for _, ev := range events {
		if cs, ok := ev.(domain.ChannelState); ok {
			res.States = append(res.States, cs)
		}
		if in.Submit(ev) {
			res.Triggered = true
		}
	}
	return res, nil
}
