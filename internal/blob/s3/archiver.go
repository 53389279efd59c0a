package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vantagelabs/crossarb/internal/domain"
)

// TradeArchiveStore is the narrow store surface the archiver needs: a
// time-ranged read plus a prune. The Postgres TradeStore satisfies it.
type TradeArchiveStore interface {
	// ListBefore returns all trades with a timestamp strictly before the
	// cutoff, oldest first.
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeRecord, error)
	// DeleteBefore removes all trades with a timestamp strictly before the
	// cutoff and returns the number of rows removed.
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// Archiver moves old trade records out of the primary store: it serializes
// them to JSONL, uploads the batch to object storage, and prunes the archived
// rows only after the upload succeeds.
type Archiver struct {
	writer domain.BlobWriter
	trades TradeArchiveStore
	clock  domain.Clock
	logger *slog.Logger
}

// Option customizes an Archiver.
type Option func(*Archiver)

// WithClock overrides the archiver's time source.
func WithClock(clock domain.Clock) Option {
	return func(a *Archiver) {
		a.clock = clock
	}
}

// NewArchiver creates an Archiver that writes trade batches through the given
// blob writer and prunes them from the given store.
func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, logger *slog.Logger, opts ...Option) *Archiver {
	a := &Archiver{
		writer: writer,
		trades: trades,
		clock:  domain.RealClock{},
		logger: logger.With(slog.String("component", "archiver")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ArchiveTrades uploads all trades older than the cutoff to
// archive/trades/YYYY-MM.jsonl and deletes them from the primary store.
// Returns the number of records archived. The delete runs only after a
// successful upload, so a failed upload leaves the store untouched.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath("trades", before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.trades.DeleteBefore(ctx, before)
	if err != nil {
		// Upload succeeded but the prune failed; the next run re-uploads the
		// same key, which is harmless because batches are keyed by cutoff.
		return int64(len(trades)), fmt.Errorf("s3blob: archive trades prune: %w", err)
	}

	a.logger.Info("archived trades",
		slog.String("path", path),
		slog.Int("count", len(trades)),
		slog.Int64("pruned", deleted),
		slog.Time("before", before))

	return int64(len(trades)), nil
}

// Run archives on the given interval, keeping the most recent retention span
// in the primary store, until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval, retention time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			cutoff := a.clock.Now().Add(-retention)
			if _, err := a.ArchiveTrades(ctx, cutoff); err != nil {
				a.logger.Error("archive sweep failed", slog.Any("error", err))
			}
		}
	}
}

// archivePath builds the object key for an archive batch, partitioned by the
// year-month of the cutoff time, e.g. archive/trades/2026-08.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
