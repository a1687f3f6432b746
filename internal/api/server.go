// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"lightning-lens/internal/domain"
	"lightning-lens/internal/ingestion"
	"lightning-lens/internal/learning"
	"lightning-lens/internal/model"
	"lightning-lens/internal/recommend"
)

const maxBodyBytes = 1 << 20

// Engine is the service surface the API serves.
type Engine interface {
	PredictOptimalRatio(capacity, localBalance, remoteBalance int64) float64
	RecommendationBatch(req recommend.Request) domain.RecommendationBatch
	Snapshot(ctx context.Context) (string, error)
	Stats() learning.Stats
	Performance() []domain.PerformanceSample
}

// Intake accepts raw telemetry messages.
type Intake interface {
	HandleMessage(data []byte) (ingestion.Result, error)
}

// Channels is the live network view.
type Channels interface {
	CurrentChannelStates() []domain.ChannelSnapshot
	KnownNodes() []domain.Node
}

// Options configures the API handler.
type Options struct {
	Engine   Engine // Required
	Intake   Intake // Required
	Channels Channels
	Limiter  *RateLimiter
	// Metrics is mounted on /metrics when set.
	Metrics http.Handler
	Logger  logrus.FieldLogger
	Now     func() time.Time
}

// Server holds the API handlers.
type Server struct {
	engine   Engine
	intake   Intake
	channels Channels
	logger   logrus.FieldLogger
	now      func() time.Time
	started  time.Time
}

// NewHandler builds the router.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger = logger.WithField("component", "api")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	s := &Server{
		engine:   opts.Engine,
		intake:   opts.Intake,
		channels: opts.Channels,
		logger:   logger,
		now:      now,
		started:  now(),
	}

	r := mux.NewRouter()
	r.Use(instrument(logger))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}

	api := r.PathPrefix("/api").Subrouter()
	api.Use(opts.Limiter.Middleware)
	api.HandleFunc("/update", s.handleUpdate).Methods(http.MethodPost)
	api.HandleFunc("/recommendations", s.handleRecommendations).Methods(http.MethodGet)
	api.HandleFunc("/predict", s.handlePredict).Methods(http.MethodGet)
	api.HandleFunc("/snapshot", s.handleSnapshot).Methods(http.MethodPost)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/channels", s.handleChannels).Methods(http.MethodGet)
	api.HandleFunc("/performance", s.handlePerformance).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type updateResponse struct {
	Status     string   `json:"status"`
	Message    string   `json:"message,omitempty"`
	Events     int      `json:"events"`
	Triggered  bool     `json:"triggered"`
	Prediction *float64 `json:"prediction,omitempty"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		return
	}

	res, err := s.intake.HandleMessage(body)
	switch {
	case errors.Is(err, ingestion.ErrIgnored):
		writeJSON(w, http.StatusOK, updateResponse{Status: "ignored", Message: "message carries no telemetry"})
		return
	case err != nil:
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := updateResponse{Status: "success", Events: res.Events, Triggered: res.Triggered}
	if len(res.States) == 1 {
		cs := res.States[0]
		p := s.engine.PredictOptimalRatio(cs.Capacity, cs.LocalBalance, cs.RemoteBalance)
		resp.Prediction = &p
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req recommend.Request

	if v := q.Get("threshold"); v != "" {
		th, err := strconv.ParseFloat(v, 64)
		if err != nil || th < 0 {
			writeError(w, http.StatusBadRequest, "threshold must be a non-negative number")
			return
		}
		req.Threshold = &th
	}
	if v := q.Get("top_k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil || k < 1 {
			writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		req.TopK = k
	}

	writeJSON(w, http.StatusOK, s.engine.RecommendationBatch(req))
}

type predictResponse struct {
	Capacity         int64   `json:"capacity"`
	LocalBalance     int64   `json:"local_balance"`
	RemoteBalance    int64   `json:"remote_balance"`
	CurrentRatio     float64 `json:"current_ratio"`
	OptimalRatio     float64 `json:"optimal_ratio"`
	AdjustmentNeeded float64 `json:"adjustment_needed"`
	Fitted           bool    `json:"fitted"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	capacity, err := parseInt(q.Get("capacity"))
	if err != nil || capacity <= 0 {
		writeError(w, http.StatusBadRequest, "capacity must be a positive integer")
		return
	}
	local, err := parseInt(q.Get("local_balance"))
	if err != nil || local < 0 || local > capacity {
		writeError(w, http.StatusBadRequest, "local_balance must be an integer in [0, capacity]")
		return
	}
	remote := capacity - local
	if v := q.Get("remote_balance"); v != "" {
		remote, err = parseInt(v)
		if err != nil || remote < 0 {
			writeError(w, http.StatusBadRequest, "remote_balance must be a non-negative integer")
			return
		}
	}

	optimal := s.engine.PredictOptimalRatio(capacity, local, remote)
	current := float64(local) / float64(capacity)
	writeJSON(w, http.StatusOK, predictResponse{
		Capacity:         capacity,
		LocalBalance:     local,
		RemoteBalance:    remote,
		CurrentRatio:     current,
		OptimalRatio:     optimal,
		AdjustmentNeeded: optimal - current,
		Fitted:           s.engine.Stats().Fitted,
	})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	loc, err := s.engine.Snapshot(r.Context())
	switch {
	case errors.Is(err, model.ErrNotFitted):
		writeError(w, http.StatusConflict, "model is not fitted yet")
	case err != nil:
		s.logger.WithError(err).Warn("snapshot request failed")
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "location": loc})
	}
}

type statusResponse struct {
	learning.Stats
	Channels      int       `json:"channels"`
	Nodes         int       `json:"nodes"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds float64   `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Stats:         s.engine.Stats(),
		StartedAt:     s.started.UTC(),
		UptimeSeconds: s.now().Sub(s.started).Seconds(),
	}
	if s.channels != nil {
		resp.Channels = len(s.channels.CurrentChannelStates())
		resp.Nodes = len(s.channels.KnownNodes())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChannels(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Channels []domain.ChannelSnapshot `json:"channels"`
		Nodes    []domain.Node            `json:"nodes"`
	}{
		Channels: []domain.ChannelSnapshot{},
		Nodes:    []domain.Node{},
	}
	if s.channels != nil {
		resp.Channels = s.channels.CurrentChannelStates()
		resp.Nodes = s.channels.KnownNodes()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePerformance(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	samples := s.engine.Performance()
	if limit > 0 && len(samples) > limit {
		samples = samples[len(samples)-limit:]
	}
	if samples == nil {
		samples = []domain.PerformanceSample{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"samples": samples})
}

func parseInt(v string) (int64, error) {
	if v == "" {
		return 0, errors.New("missing")
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	// Clients sometimes send whole numbers as floats.
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f != float64(int64(f)) {
		return 0, errors.New("not an integer")
	}
	return int64(f), nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": msg})
}
