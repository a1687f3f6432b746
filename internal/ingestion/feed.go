package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"lightning-lens/internal/observability"
)

// ErrNotConnected is returned by Send while the feed is down.
var ErrNotConnected = errors.New("feed not connected")

// FeedOptions configures a FeedClient.
type FeedOptions struct {
	URL               string        // Required
	ReconnectDelay    time.Duration // Default: 1s
	MaxReconnectDelay time.Duration // Default: 30s
	PingInterval      time.Duration // Default: 30s
	ReadTimeout       time.Duration // Default: 60s
	WriteTimeout      time.Duration // Default: 10s
	HandshakeTimeout  time.Duration // Default: 10s
	Logger            logrus.FieldLogger
}

// FeedClient consumes the simulator's telemetry WebSocket. It reconnects
// with exponential backoff until its context is cancelled.
type FeedClient struct {
	opts   FeedOptions
	dialer websocket.Dialer
	logger logrus.FieldLogger

	connMu sync.Mutex // guards conn and serializes writes
	conn   *websocket.Conn

	connected  atomic.Bool
	reconnects atomic.Int64
}

// NewFeedClient creates a FeedClient. It does not connect until Run.
func NewFeedClient(opts FeedOptions) *FeedClient {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = time.Second
	}
	if opts.MaxReconnectDelay <= 0 {
		opts.MaxReconnectDelay = 30 * time.Second
	}
	if opts.MaxReconnectDelay < opts.ReconnectDelay {
		opts.MaxReconnectDelay = opts.ReconnectDelay
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = 30 * time.Second
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 10 * time.Second
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FeedClient{
		opts:   opts,
		dialer: websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		logger: logger.WithFields(logrus.Fields{"component": "feed", "url": opts.URL}),
	}
}

// Connected reports whether a connection is currently open.
func (c *FeedClient) Connected() bool {
	return c.connected.Load()
}

// Reconnects returns how many times the client had to reconnect.
func (c *FeedClient) Reconnects() int64 {
	return c.reconnects.Load()
}

// Run reads messages and passes each one to handle until ctx is cancelled.
// handle runs on the read goroutine and must not block for long.
func (c *FeedClient) Run(ctx context.Context, handle func([]byte)) error {
	delay := c.opts.ReconnectDelay
	first := true

	for {
		if !first {
			c.reconnects.Add(1)
			observability.RecordFeedReconnect()
		}
		first = false

		conn, _, err := c.dialer.DialContext(ctx, c.opts.URL, nil)
		if err == nil {
			delay = c.opts.ReconnectDelay
			c.logger.Info("feed connected")
			err = c.serve(ctx, conn, handle)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.logger.WithError(err).WithField("retry_in", delay).Warn("feed disconnected")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.opts.MaxReconnectDelay {
			delay = c.opts.MaxReconnectDelay
		}
	}
}

// serve owns one connection until it fails or ctx is cancelled.
func (c *FeedClient) serve(ctx context.Context, conn *websocket.Conn, handle func([]byte)) error {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.connected.Store(true)

	done := make(chan struct{})
	var wg sync.WaitGroup
	defer func() {
		close(done)
		c.connMu.Lock()
		c.conn = nil
		c.connMu.Unlock()
		c.connected.Store(false)
		conn.Close()
		wg.Wait()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.pingLoop(ctx, conn, done)
	}()

	if err := c.Send(ctx, map[string]string{
		"type":    "register",
		"client":  "lightning_lens",
		"message": "LightningLens connected",
	}); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout)); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		handle(message)
	}
}

// pingLoop keeps the connection alive and closes it when ctx is cancelled,
// which unblocks the reader.
func (c *FeedClient) pingLoop(ctx context.Context, conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			c.connMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.opts.WriteTimeout))
			c.connMu.Unlock()
			conn.Close()
			return
		case <-ticker.C:
			c.connMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout))
			c.connMu.Unlock()
			if err != nil {
				c.logger.WithError(err).Debug("ping failed")
			}
		}
	}
}

// Send writes v as JSON on the live connection.
func (c *FeedClient) Send(ctx context.Context, v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrNotConnected
	}

	deadline := time.Now().Add(c.opts.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return c.conn.WriteJSON(v)
}
