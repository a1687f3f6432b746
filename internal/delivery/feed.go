package delivery

import (
	"context"

	"lightning-lens/internal/domain"
)

// Sender writes a JSON message on a live connection.
type Sender interface {
	Send(ctx context.Context, v any) error
}

// FeedSink sends batches back to the telemetry feed as "suggestions"
// messages, which is how the simulator picks them up.
type FeedSink struct {
	conn Sender
}

// NewFeedSink creates a FeedSink over conn.
func NewFeedSink(conn Sender) *FeedSink {
	return &FeedSink{conn: conn}
}

func (s *FeedSink) Name() string { return "feed" }

// Deliver sends batch. It fails while the feed is disconnected.
func (s *FeedSink) Deliver(ctx context.Context, batch domain.RecommendationBatch) error {
	return s.conn.Send(ctx, feedMessage{Type: "suggestions", Data: batch})
}

type feedMessage struct {
	Type string                     `json:"type"`
	Data domain.RecommendationBatch `json:"data"`
}
