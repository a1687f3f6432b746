package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"lightning-lens/internal/api"
	"lightning-lens/internal/channels"
	"lightning-lens/internal/config"
	"lightning-lens/internal/delivery"
	"lightning-lens/internal/ingestion"
	"lightning-lens/internal/learning"
	"lightning-lens/internal/model"
	"lightning-lens/internal/observability"
	"lightning-lens/internal/recommend"
	"lightning-lens/internal/snapshot"
	"lightning-lens/internal/storage"
)

const (
	shutdownTimeout = 30 * time.Second
	// drainTimeout bounds the wait for workers and stays below shutdownTimeout.
	drainTimeout = 20 * time.Second
)

func newServeCommand(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the learning engine, telemetry feed and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := root.load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}

	f := cmd.Flags()
	f.String("addr", "", "HTTP API listen address")
	f.String("ws-url", "", "telemetry WebSocket URL")
	f.String("snapshot-backend", "", "snapshot backend: file, postgres or memory")
	_ = root.v.BindPFlag("api.addr", f.Lookup("addr"))
	_ = root.v.BindPFlag("ingest.ws_url", f.Lookup("ws-url"))
	_ = root.v.BindPFlag("snapshot.backend", f.Lookup("snapshot-backend"))
	return cmd
}

// service is the wired set of long-running components.
type service struct {
	engine     *learning.Engine
	persister  *snapshot.Persister
	schedule   string
	runner     *ingestion.Runner
	dispatcher *delivery.Dispatcher
	apiServer  *http.Server
	metricsSrv *http.Server
	closers    []func()
	logger     logrus.FieldLogger

	workers      sync.WaitGroup
	drainTimeout time.Duration
}

// serve runs until SIGINT/SIGTERM. A second signal forces exit.
func serve(parent context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Info("shutting down")
			cancel()
		case <-done:
			return
		}
		select {
		case sig := <-sigCh:
			logger.WithField("signal", sig.String()).Error("second signal, forcing exit")
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Error("graceful shutdown timed out, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	svc, err := build(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer svc.close()

	err = svc.run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

// build wires every component from configuration.
func build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*service, error) {
	observability.Configure(cfg.Metrics.Namespace)

	st, cleanup, err := createStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	svc := &service{
		schedule:     cfg.Snapshot.Schedule,
		closers:      []func(){cleanup},
		logger:       logger.WithField("component", "serve"),
		drainTimeout: drainTimeout,
	}

	store := model.NewStore(model.StoreOptions{
		MinSamples: cfg.Learning.MinSamplesForUpdate,
		Alpha:      cfg.Learning.RidgeAlpha,
	})
	svc.persister = snapshot.NewPersister(snapshot.PersisterOptions{
		Artifacts:   st.artifacts,
		Model:       store,
		MinInterval: cfg.Snapshot.MinInterval,
		Logger:      logger,
	})
	registry := channels.NewRegistry(cfg.Nodes...)

	var feed *ingestion.FeedClient
	if cfg.Ingest.WSURL != "" {
		feed = ingestion.NewFeedClient(ingestion.FeedOptions{
			URL:               cfg.Ingest.WSURL,
			ReconnectDelay:    cfg.Ingest.ReconnectDelay,
			MaxReconnectDelay: cfg.Ingest.MaxReconnectDelay,
			ReadTimeout:       cfg.Ingest.ReadTimeout,
			Logger:            logger,
		})
	}

	sinks, err := svc.sinks(ctx, cfg, feed)
	if err != nil {
		svc.close()
		return nil, err
	}
	var dispatcher learning.Dispatcher
	if len(sinks) > 0 {
		svc.dispatcher = delivery.NewDispatcher(delivery.DispatcherOptions{
			Sinks:   sinks,
			Timeout: cfg.Delivery.Timeout,
			Logger:  logger,
		})
		dispatcher = svc.dispatcher
		logger.WithField("sinks", svc.dispatcher.Sinks()).Info("recommendation delivery enabled")
	}

	svc.engine = learning.NewEngine(learning.EngineOptions{
		Buffer: learning.BufferOptions{
			Capacity:       cfg.Learning.BufferSize,
			MinSamples:     cfg.Learning.MinSamplesForUpdate,
			UpdateInterval: int(cfg.Learning.UpdateInterval),
		},
		Controller: learning.ControllerOptions{
			InitialRate:  cfg.Learning.InitialLearningRate,
			MinRate:      cfg.Learning.MinLearningRate,
			MaxRate:      cfg.Learning.MaxLearningRate,
			HistoryLimit: cfg.Learning.PerformanceHistoryLimit,
		},
		Store: store,
		Generator: recommend.NewGenerator(recommend.GeneratorOptions{
			Predictor: store,
			Threshold: cfg.Recommend.Threshold,
			TopK:      cfg.Recommend.TopK,
			MinTx:     cfg.Recommend.MinTx,
			MaxTx:     cfg.Recommend.MaxTx,
			Logger:    logger,
		}),
		Channels:      registry,
		Snapshots:     svc.persister,
		Dispatcher:    dispatcher,
		Performance:   st.performance,
		PushInterval:  cfg.Delivery.PushInterval,
		PushOnRetrain: cfg.Delivery.PushOnRetrain,
		Logger:        logger,
	})

	if cfg.Snapshot.LoadOnStart {
		m, err := svc.engine.LoadLatest(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			logger.Info("no saved model, starting unfitted")
		case err != nil:
			logger.WithError(err).Warn("could not restore saved model, starting unfitted")
		default:
			logger.WithField("version", m.Version).Info("resumed from saved model")
		}
	}

	var archiver *ingestion.Archiver
	if st.telemetry != nil {
		archiver = ingestion.NewArchiver(ingestion.ArchiverOptions{Store: st.telemetry, Logger: logger})
	}
	intake := ingestion.NewIntake(ingestion.IntakeOptions{
		Engine:   svc.engine,
		Registry: registry,
		Archiver: archiver,
		Logger:   logger,
	})
	svc.runner = ingestion.NewRunner(ingestion.RunnerOptions{
		Feed:     feed,
		Intake:   intake,
		Archiver: archiver,
		Logger:   logger,
	})

	// Metrics share the API listener unless a separate address is configured.
	apiOpts := api.Options{
		Engine:   svc.engine,
		Intake:   intake,
		Channels: registry,
		Limiter:  api.NewRateLimiter(cfg.API.RateLimitRPS, cfg.API.RateLimitBurst),
		Logger:   logger,
	}
	if cfg.Metrics.Addr == "" || cfg.Metrics.Addr == cfg.API.Addr {
		apiOpts.Metrics = observability.Handler()
	} else {
		mux := http.NewServeMux()
		mux.Handle("/metrics", observability.Handler())
		svc.metricsSrv = &http.Server{Addr: cfg.Metrics.Addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	}
	svc.apiServer = &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           api.NewHandler(apiOpts),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return svc, nil
}

func (s *service) sinks(ctx context.Context, cfg *config.Config, feed *ingestion.FeedClient) ([]delivery.Sink, error) {
	var sinks []delivery.Sink
	if cfg.Delivery.WebhookURL != "" {
		sinks = append(sinks, delivery.NewWebhookSink(cfg.Delivery.WebhookURL, nil))
	}
	if cfg.Delivery.RedisAddr != "" {
		rs, err := delivery.NewRedisSink(ctx, cfg.Delivery.RedisAddr, cfg.Delivery.RedisPassword, cfg.Delivery.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		s.closers = append(s.closers, func() { _ = rs.Close() })
		sinks = append(sinks, rs)
	}
	if cfg.Delivery.FeedReplies && feed != nil {
		sinks = append(sinks, delivery.NewFeedSink(feed))
	}
	return sinks, nil
}

// run starts every component and blocks until ctx is done or one fails.
// Workers are stopped and drained before it returns.
func (s *service) run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	errCh := make(chan error, 5)

	s.goWorker(func() {
		if err := s.engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("learning engine: %w", err)
		}
	})
	s.goWorker(func() {
		if err := s.persister.Run(ctx, s.schedule); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("snapshot scheduler: %w", err)
		}
	})
	s.goWorker(func() {
		if err := s.runner.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("ingestion: %w", err)
		}
	})
	for _, srv := range []*http.Server{s.apiServer, s.metricsSrv} {
		if srv == nil {
			continue
		}
		go func(srv *http.Server) {
			s.logger.WithField("addr", srv.Addr).Info("http listener started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case err = <-errCh:
	}
	cancel()
	s.shutdown()
	return err
}

func (s *service) goWorker(fn func()) {
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		fn()
	}()
}

// shutdown stops listeners, waits for workers, writes a final snapshot and
// drains deliveries.
func (s *service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, srv := range []*http.Server{s.apiServer, s.metricsSrv} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.WithError(err).Warn("http shutdown")
		}
	}

	if !s.waitWorkers() {
		s.logger.WithField("timeout", s.drainTimeout).Warn("workers still running, snapshotting anyway")
	}

	if loc, err := s.persister.Save(ctx); err == nil {
		s.logger.WithField("location", loc).Info("final snapshot saved")
	} else if !errors.Is(err, model.ErrNotFitted) {
		s.logger.WithError(err).Warn("final snapshot failed")
	}

	if s.dispatcher != nil {
		s.dispatcher.Wait()
	}
}

// waitWorkers reports whether every worker returned within drainTimeout.
func (s *service) waitWorkers() bool {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	timeout := s.drainTimeout
	if timeout <= 0 {
		timeout = drainTimeout
	}
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}
