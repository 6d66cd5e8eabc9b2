package idempotency

import (
	"context"
	"log/slog"
	"time"

	"github.com/josh-kwaku/fooddelivery-saga/internal/metrics"
)

// Prunable is a table with a time-based retention sweep.
type Prunable interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
	Name() string
}

// Pruner bounds ledger and outbox storage. Correctness never depends on it:
// a redelivery older than the retention window is assumed impossible.
type Pruner struct {
	tables    []Prunable
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

func NewPruner(retention, interval time.Duration, logger *slog.Logger, tables ...Prunable) *Pruner {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Pruner{tables: tables, retention: retention, interval: interval, logger: logger}
}

func (p *Pruner) Start(ctx context.Context) {
	p.logger.Info("ledger pruner started", "interval", p.interval, "retention", p.retention)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ledger pruner stopped")
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce sweeps every table once and returns the number of rows removed.
// A failing table is logged and skipped.
func (p *Pruner) PruneOnce(ctx context.Context) int64 {
	cutoff := time.Now().Add(-p.retention)
	var total int64
	for _, t := range p.tables {
		n, err := t.Prune(ctx, cutoff)
		if err != nil {
			p.logger.Error("failed to prune", "table", t.Name(), "error", err)
			continue
		}
		if n > 0 {
			p.logger.Info("pruned rows", "table", t.Name(), "count", n)
			metrics.LedgerPruned.WithLabelValues(t.Name()).Add(float64(n))
		}
		total += n
	}
	return total
}
