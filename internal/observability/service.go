package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tonimelisma/drivesdk-go/internal/api"
	"github.com/tonimelisma/drivesdk-go/internal/drive"
	"github.com/tonimelisma/drivesdk-go/internal/sdkerr"
)

const (
	sqlInsertMetric = `INSERT INTO metrics (name, value, labels, recorded_at) VALUES (?, ?, ?, ?)`
	sqlSelectBatch  = `SELECT id, name, value, labels, recorded_at FROM metrics ORDER BY id LIMIT ?`
	sqlDeleteUpTo   = `DELETE FROM metrics WHERE id <= ?`
	sqlCountPending = `SELECT COUNT(*) FROM metrics`

	defaultFlushBatch = 500
)

// Metric names.
const (
	metricTransfers     = "drive_transfers_total"
	metricTransferBytes = "drive_transfer_bytes_total"
)

// Sender ships a batch of metrics. *api.Client implements it.
type Sender interface {
	SendMetrics(ctx context.Context, metrics []api.Metric) error
}

var _ Sender = (*api.Client)(nil)

// Options configure a Service.
type Options struct {
	// DBPath is the outbox database. ":memory:" keeps it in memory.
	DBPath     string
	FlushBatch int
	Sender     Sender
	Logger     *slog.Logger
}

// Service is the resource behind an observability service handle.
type Service struct {
	db      *sql.DB
	sender  Sender
	logger  *slog.Logger
	batch   int
	nowFunc func() time.Time

	flushMu sync.Mutex
	closeMu sync.RWMutex
	closed  bool
}

var _ drive.MetricsRecorder = (*Service)(nil)

// Start opens the outbox and returns a running service.
func Start(ctx context.Context, opts Options) (*Service, error) {
	if opts.DBPath == "" {
		return nil, fmt.Errorf("observability: empty database path: %w", sdkerr.ErrArgument)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	batch := opts.FlushBatch
	if batch <= 0 {
		batch = defaultFlushBatch
	}

	db, err := openDB(ctx, opts.DBPath, logger)
	if err != nil {
		return nil, err
	}

	logger.Info("observability service started", slog.String("db_path", opts.DBPath))

	return &Service{
		db:      db,
		sender:  opts.Sender,
		logger:  logger,
		batch:   batch,
		nowFunc: time.Now,
	}, nil
}

// RecordTransfer stores one transfer outcome. Failures are logged, never
// returned, so recording cannot fail a transfer.
func (s *Service) RecordTransfer(ctx context.Context, ev drive.TransferEvent) {
	labels := map[string]string{"direction": ev.Direction, "outcome": ev.Outcome}
	if ev.ErrorKind != "" {
		labels["error_kind"] = ev.ErrorKind
	}

	if err := s.Record(ctx, metricTransfers, 1, labels); err != nil {
		s.logger.Warn("failed to record transfer", slog.String("error", err.Error()))
		return
	}

	if ev.Outcome == drive.OutcomeSuccess && ev.Bytes > 0 {
		if err := s.Record(ctx, metricTransferBytes, ev.Bytes, map[string]string{"direction": ev.Direction}); err != nil {
			s.logger.Warn("failed to record transfer bytes", slog.String("error", err.Error()))
		}
	}
}

// Record appends a data point to the outbox.
func (s *Service) Record(ctx context.Context, name string, value int64, labels map[string]string) error {
	if name == "" {
		return fmt.Errorf("observability: empty metric name: %w", sdkerr.ErrArgument)
	}

	encoded, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("observability: encoding labels: %w", err)
	}

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return fmt.Errorf("observability: service closed: %w", sdkerr.ErrInvalidState)
	}

	if _, err := s.db.ExecContext(ctx, sqlInsertMetric, name, value, string(encoded), s.nowFunc().UnixNano()); err != nil {
		return fmt.Errorf("observability: inserting metric %s: %w", name, err)
	}

	return nil
}

// Pending returns the number of data points waiting to be flushed.
func (s *Service) Pending(ctx context.Context) (int, error) {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("observability: service closed: %w", sdkerr.ErrInvalidState)
	}

	var n int
	if err := s.db.QueryRowContext(ctx, sqlCountPending).Scan(&n); err != nil {
		return 0, fmt.Errorf("observability: counting metrics: %w", err)
	}

	return n, nil
}

// Flush sends pending data points in batches, deleting each batch once the
// service accepts it. A failed batch stays in the outbox for the next flush.
// It returns the number of data points shipped.
func (s *Service) Flush(ctx context.Context) (int, error) {
	if s.sender == nil {
		return 0, fmt.Errorf("observability: no metrics sender configured: %w", sdkerr.ErrInvalidState)
	}

	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return 0, fmt.Errorf("observability: service closed: %w", sdkerr.ErrInvalidState)
	}

	var sent int

	for {
		if err := ctx.Err(); err != nil {
			return sent, fmt.Errorf("observability: flushing: %w", err)
		}

		batch, lastID, err := s.loadBatch(ctx)
		if err != nil {
			return sent, err
		}

		if len(batch) == 0 {
			break
		}

		if err := s.sender.SendMetrics(ctx, batch); err != nil {
			return sent, fmt.Errorf("observability: sending %d metrics: %w", len(batch), err)
		}

		if _, err := s.db.ExecContext(ctx, sqlDeleteUpTo, lastID); err != nil {
			return sent, fmt.Errorf("observability: deleting flushed metrics: %w", err)
		}

		sent += len(batch)

		if len(batch) < s.batch {
			break
		}
	}

	s.logger.Debug("metrics flushed", slog.Int("count", sent))

	return sent, nil
}

func (s *Service) loadBatch(ctx context.Context) ([]api.Metric, int64, error) {
	rows, err := s.db.QueryContext(ctx, sqlSelectBatch, s.batch)
	if err != nil {
		return nil, 0, fmt.Errorf("observability: loading metrics: %w", err)
	}
	defer rows.Close()

	var (
		out    []api.Metric
		lastID int64
	)

	for rows.Next() {
		var (
			m          api.Metric
			labels     string
			recordedAt int64
		)

		if err := rows.Scan(&lastID, &m.Name, &m.Value, &labels, &recordedAt); err != nil {
			return nil, 0, fmt.Errorf("observability: scanning metric: %w", err)
		}

		if err := json.Unmarshal([]byte(labels), &m.Labels); err != nil {
			s.logger.Warn("dropping unreadable metric labels", slog.Int64("id", lastID), slog.String("error", err.Error()))
		}

		m.Time = time.Unix(0, recordedAt).UTC()
		out = append(out, m)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("observability: iterating metrics: %w", err)
	}

	return out, lastID, nil
}

// Close closes the outbox. Unflushed data points stay on disk for the next
// service started on the same path. Safe to call more than once.
func (s *Service) Close() error {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	if err := s.db.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("observability: closing database: %w", err)
	}

	return nil
}
