// Package feed maintains realtime market data: per-venue WebSocket clients
// normalize wire messages into book updates, and the feeder applies them to
// the in-memory book store.
package feed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vantagelabs/crossarb/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// Decoder translates one venue's wire protocol into normalized book updates.
type Decoder interface {
	// Venue returns the canonical venue name.
	Venue() string
	// SubscribePayloads returns the messages to send after connect to
	// subscribe depth streams for the given canonical symbols.
	SubscribePayloads(symbols []string) ([][]byte, error)
	// Decode parses one raw frame. A nil, nil return means the frame is
	// control traffic to ignore. Malformed depth data returns
	// ErrFeedProtocol.
	Decode(raw []byte) ([]domain.BookUpdate, error)
}

// UpdateHandler receives each normalized update from a venue feed.
type UpdateHandler func(domain.BookUpdate)

// SnapshotFunc fetches a full depth snapshot out of band, returning a reset
// marker followed by the snapshot levels for every subscribed symbol. Venues
// whose incremental stream does not open with a snapshot need one after each
// (re)connect.
type SnapshotFunc func(ctx context.Context) ([]domain.BookUpdate, error)

// VenueFeed is a reconnecting WebSocket consumer for one venue. It dials,
// subscribes depth streams for the configured symbols, and pushes every
// decoded update to the handler. Malformed frames are dropped and counted,
// never applied.
type VenueFeed struct {
	wsURL    string
	symbols  []string
	decoder  Decoder
	handler  UpdateHandler
	snapshot SnapshotFunc
	logger   *slog.Logger

	mu      sync.Mutex
	dropped int64

	closeOnce sync.Once
	done      chan struct{}
}

// FeedOption configures a VenueFeed.
type FeedOption func(*VenueFeed)

// WithSnapshot runs fn after every (re)connect, pushing the snapshot through
// the handler before incremental reads resume. A snapshot failure counts as a
// connection failure and triggers the reconnect backoff.
func WithSnapshot(fn SnapshotFunc) FeedOption {
	return func(f *VenueFeed) { f.snapshot = fn }
}

// NewVenueFeed creates a feed for the given venue endpoint and symbols.
func NewVenueFeed(wsURL string, symbols []string, decoder Decoder, handler UpdateHandler, logger *slog.Logger, opts ...FeedOption) *VenueFeed {
	f := &VenueFeed{
		wsURL:   wsURL,
		symbols: symbols,
		decoder: decoder,
		handler: handler,
		logger: logger.With(
			slog.String("component", "venue_feed"),
			slog.String("venue", decoder.Venue()),
		),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Run connects and consumes until ctx is cancelled, reconnecting with
// exponential backoff on any disconnect.
func (f *VenueFeed) Run(ctx context.Context) error {
	if len(f.symbols) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if err == nil || ctx.Err() != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}

		f.logger.Warn("feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials once and reads until the connection drops. A clean
// shutdown returns nil; everything else returns the transport error.
func (f *VenueFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.wsURL, err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	payloads, err := f.decoder.SubscribePayloads(f.symbols)
	if err != nil {
		return fmt.Errorf("build subscriptions: %w", err)
	}
	for _, p := range payloads {
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, p); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}
	f.logger.Info("feed subscribed", slog.Int("symbols", len(f.symbols)))

	if f.snapshot != nil {
		updates, err := f.snapshot(ctx)
		if err != nil {
			return fmt.Errorf("depth snapshot: %w", err)
		}
		for _, u := range updates {
			f.handler(u)
		}
		f.logger.Info("depth snapshot applied", slog.Int("updates", len(updates)))
	}

	// Close the socket when ctx ends so ReadMessage unblocks.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-f.done:
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-f.done:
				return nil
			default:
			}
			return fmt.Errorf("%w: %s", domain.ErrWSDisconnect, err)
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		updates, err := f.decoder.Decode(raw)
		if err != nil {
			f.mu.Lock()
			f.dropped++
			dropped := f.dropped
			f.mu.Unlock()
			f.logger.Debug("dropped malformed frame",
				slog.String("error", err.Error()),
				slog.Int64("dropped_total", dropped))
			continue
		}
		for _, u := range updates {
			f.handler(u)
		}
	}
}

// Dropped returns how many malformed frames this feed has discarded.
func (f *VenueFeed) Dropped() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dropped
}

// Close stops the feed.
func (f *VenueFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
