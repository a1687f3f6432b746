// Package recommend turns model predictions over live channel states into
// ranked, amount-bounded rebalancing suggestions.
package recommend

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/features"
	"lightning-lens/internal/model"
	"lightning-lens/internal/observability"
)

// Defaults applied when a request leaves threshold or top_k unset.
const (
	DefaultThreshold = 0.1
	DefaultTopK      = 3
	DefaultMinTx     = 10_000
	DefaultMaxTx     = 1_000_000
)

// Predictor is the read side of the model store.
type Predictor interface {
	Predict(rows []domain.FeatureVector) ([]float64, error)
}

// GeneratorOptions configures a Generator.
type GeneratorOptions struct {
	Predictor Predictor // Required
	Extractor *features.Extractor
	Threshold float64 // Default: 0.1
	TopK      int     // Default: 3
	MinTx     int64   // Default: 10000
	MaxTx     int64   // Default: 1000000
	Logger    logrus.FieldLogger
	Now       func() time.Time
}

// Generator produces rebalancing recommendations. It only reads from the
// predictor and is safe for concurrent use.
type Generator struct {
	predictor Predictor
	extractor *features.Extractor
	threshold float64
	topK      int
	minTx     int64
	maxTx     int64
	logger    logrus.FieldLogger
	now       func() time.Time
}

// NewGenerator creates a Generator.
func NewGenerator(opts GeneratorOptions) *Generator {
	extractor := opts.Extractor
	if extractor == nil {
		extractor = features.NewExtractor()
	}
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	minTx := opts.MinTx
	if minTx <= 0 {
		minTx = DefaultMinTx
	}
	maxTx := opts.MaxTx
	if maxTx <= 0 {
		maxTx = DefaultMaxTx
	}
	if maxTx < minTx {
		maxTx = minTx
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		predictor: opts.Predictor,
		extractor: extractor,
		threshold: threshold,
		topK:      topK,
		minTx:     minTx,
		maxTx:     maxTx,
		logger:    logger.WithField("component", "recommend"),
		now:       now,
	}
}

// Request overrides generator defaults for one call.
// A nil Threshold or a TopK <= 0 keeps the default.
type Request struct {
	Threshold *float64
	TopK      int
}

type candidate struct {
	state      domain.ChannelSnapshot
	adjustment float64
}

// Generate ranks channels by how far their balance ratio is from the
// predicted optimum and returns at most top_k suggestions. It never fails:
// prediction errors fall back to the default ratio and channels whose
// counterpart cannot be resolved are skipped.
func (g *Generator) Generate(states []domain.ChannelSnapshot, nodes *NodeIndex, req Request) []domain.Recommendation {
	threshold := g.threshold
	if req.Threshold != nil && *req.Threshold >= 0 {
		threshold = *req.Threshold
	}
	topK := g.topK
	if req.TopK > 0 {
		topK = req.TopK
	}

	live := uniqueChannels(states)
	rows := g.extractor.FromSnapshots(live, g.now())
	if len(rows) == 0 {
		return []domain.Recommendation{}
	}
	if len(rows) != len(live) {
		g.logger.WithFields(logrus.Fields{"rows": len(rows), "channels": len(live)}).
			Warn("feature rows do not match channels")
		return []domain.Recommendation{}
	}
	if nodes == nil {
		nodes = NewNodeIndex(nil)
	}

	preds, err := g.predict(rows)
	if err != nil {
		g.logger.WithError(err).WithField("channels", len(rows)).
			Warn("prediction failed, using default ratio")
		preds = make([]float64, len(rows))
		for i := range preds {
			preds[i] = model.DefaultPrediction
		}
	}

	candidates := make([]candidate, 0, len(rows))
	for i, row := range rows {
		adj := preds[i] - row.BalanceRatio
		if math.Abs(adj) <= threshold {
			continue
		}
		candidates = append(candidates, candidate{
			state:      live[i],
			adjustment: adj,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return math.Abs(candidates[i].adjustment) > math.Abs(candidates[j].adjustment)
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	out := make([]domain.Recommendation, 0, len(candidates))
	for _, c := range candidates {
		rec, ok := g.build(c, nodes)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	observability.RecordRecommendations(len(out))
	return out
}

// uniqueChannels resolves missing channel IDs, drops channels without
// capacity or ID and keeps one snapshot per ID. A later snapshot replaces
// an earlier one in place.
func uniqueChannels(states []domain.ChannelSnapshot) []domain.ChannelSnapshot {
	out := make([]domain.ChannelSnapshot, 0, len(states))
	seen := make(map[string]int, len(states))
	for _, s := range states {
		if s.ChannelID == "" && s.Node != "" && s.RemotePubkey != "" {
			s.ChannelID = domain.DeriveChannelID(s.Node, s.RemotePubkey)
		}
		if s.ChannelID == "" || s.Capacity <= 0 {
			continue
		}
		if i, ok := seen[s.ChannelID]; ok {
			out[i] = s
			continue
		}
		seen[s.ChannelID] = len(out)
		out = append(out, s)
	}
	return out
}

func (g *Generator) predict(rows []domain.FeatureVector) ([]float64, error) {
	if g.predictor == nil {
		return nil, errors.New("no predictor configured")
	}
	preds, err := g.predictor.Predict(rows)
	if err != nil {
		return nil, err
	}
	if len(preds) != len(rows) {
		return nil, fmt.Errorf("predictor returned %d values for %d rows", len(preds), len(rows))
	}
	return preds, nil
}

func (g *Generator) build(c candidate, nodes *NodeIndex) (domain.Recommendation, bool) {
	local, prefix, ok := domain.SplitChannelID(c.state.ChannelID)
	if c.state.Node != "" {
		local = c.state.Node
	}
	if !ok && local == "" {
		g.skip(c, "unparseable_channel_id")
		return domain.Recommendation{}, false
	}

	remoteKey := c.state.RemotePubkey
	if remoteKey == "" {
		remoteKey = prefix
	}
	remote, ok := nodes.Resolve(remoteKey)
	if !ok || remote == local {
		g.skip(c, "unresolved_remote")
		return domain.Recommendation{}, false
	}

	rec := domain.Recommendation{
		Amount:           g.Amount(c.adjustment, c.state.Capacity),
		ChannelID:        c.state.ChannelID,
		AdjustmentNeeded: c.adjustment,
	}
	pct := math.Abs(c.adjustment) * 100
	if c.adjustment < 0 {
		rec.FromNode, rec.ToNode = local, remote
		rec.Reason = fmt.Sprintf("Channel is %.1f%% too full on local side", pct)
	} else {
		rec.FromNode, rec.ToNode = remote, local
		rec.Reason = fmt.Sprintf("Channel is %.1f%% too empty on local side", pct)
	}
	return rec, true
}

// Amount sizes a transfer as |adjustment| of capacity, clamped to [MinTx, MaxTx].
func (g *Generator) Amount(adjustment float64, capacity int64) int64 {
	amount := int64(math.Abs(adjustment) * float64(capacity))
	if amount < g.minTx {
		return g.minTx
	}
	if amount > g.maxTx {
		return g.maxTx
	}
	return amount
}

func (g *Generator) skip(c candidate, reason string) {
	observability.RecordRecommendationSkipped(reason)
	g.logger.WithFields(logrus.Fields{
		"channel_id":    c.state.ChannelID,
		"remote_pubkey": c.state.RemotePubkey,
		"adjustment":    c.adjustment,
		"reason":        reason,
	}).Info("skipping channel")
}
