// Package inventory applies stock adjustments to product variants.
//
// An adjustment is a command carrying an idempotency key; reconciliation is a separate fetch
// that replaces the local view with the backend's. The two steps can fail independently.
package inventory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/abgdnv/storefront/internal/backend"
	"github.com/abgdnv/storefront/internal/domain"
	sferrors "github.com/abgdnv/storefront/internal/errors"
	"github.com/abgdnv/storefront/pkg/telemetry"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

type Backend interface {
	AdjustStock(ctx context.Context, variantID string, delta int64, reason, idempotencyKey string) (backend.StockResult, error)
	Variant(ctx context.Context, variantID string) (domain.Variant, error)
}

// Adjustment is one intended stock change. The key identifies the intent, not the attempt:
// every retry of the same adjustment carries the same key.
type Adjustment struct {
	VariantID      string `json:"variant_id"`
	Delta          int64  `json:"delta"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}

// NewAdjustment creates an adjustment with a fresh idempotency key.
func NewAdjustment(variantID string, delta int64, reason string) Adjustment {
	return Adjustment{
		VariantID:      variantID,
		Delta:          delta,
		Reason:         reason,
		IdempotencyKey: uuid.NewString(),
	}
}

func (a Adjustment) validate() error {
	if a.VariantID == "" {
		return fmt.Errorf("%w: variant id is required", sferrors.ErrBadRequest)
	}
	if a.Delta == 0 {
		return sferrors.ErrInvalidDelta
	}
	if a.IdempotencyKey == "" {
		return sferrors.ErrIdempotencyKeyRequired
	}
	return nil
}

// Ledger keeps the operator's view of variant stock and the adjustments that failed and may be retried.
//
// A variant has at most one outstanding adjustment: one in flight or kept as a draft after a
// failure. Every command and fetch takes a per-variant sequence number when it starts, and a
// result only replaces the view if nothing started later has already been applied.
type Ledger struct {
	mu       sync.Mutex
	backend  Backend
	logger   *slog.Logger
	variants map[string]domain.Variant
	drafts   map[string]Adjustment
	seq      map[string]uint64
	shown    map[string]uint64
	applied  metric.Int64Counter
}

func NewLedger(b Backend, logger *slog.Logger) *Ledger {
	return &Ledger{
		backend:  b,
		logger:   logger.With("component", "inventory"),
		variants: make(map[string]domain.Variant),
		drafts:   make(map[string]Adjustment),
		seq:      make(map[string]uint64),
		shown:    make(map[string]uint64),
		applied:  telemetry.Counter("storefront/inventory", "storefront.stock.adjustments", "Stock adjustments accepted by the backend"),
	}
}

// begin takes the next sequence number of a variant. Callers hold mu.
func (l *Ledger) begin(variantID string) uint64 {
	l.seq[variantID]++
	return l.seq[variantID]
}

// show replaces the view of a variant unless a later operation was applied already. Callers hold mu.
func (l *Ledger) show(seq uint64, v domain.Variant) bool {
	if seq < l.shown[v.ID] {
		return false
	}
	l.shown[v.ID] = seq
	l.variants[v.ID] = v
	return true
}

// Adjust sends the adjustment command. On success the returned stock is applied to the local
// view; on failure the local view is untouched and the adjustment is kept as a draft for Retry.
// While another adjustment of the same variant is outstanding, a different one is refused with
// ErrAdjustmentPending so its retry input and key are not lost.
func (l *Ledger) Adjust(ctx context.Context, adj Adjustment) (backend.StockResult, error) {
	if err := adj.validate(); err != nil {
		return backend.StockResult{}, err
	}
	l.mu.Lock()
	if pending, ok := l.drafts[adj.VariantID]; ok && pending.IdempotencyKey != adj.IdempotencyKey {
		l.mu.Unlock()
		return backend.StockResult{}, fmt.Errorf("%w: variant %s, key %s", sferrors.ErrAdjustmentPending, adj.VariantID, pending.IdempotencyKey)
	}
	l.drafts[adj.VariantID] = adj
	seq := l.begin(adj.VariantID)
	l.mu.Unlock()

	res, err := l.backend.AdjustStock(ctx, adj.VariantID, adj.Delta, adj.Reason, adj.IdempotencyKey)

	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.logger.WarnContext(ctx, "Stock adjustment failed, draft kept for retry",
			"variant_id", adj.VariantID, "delta", adj.Delta, "idempotency_key", adj.IdempotencyKey, "error", err)
		return backend.StockResult{}, fmt.Errorf("failed to adjust stock of variant %s: %w", adj.VariantID, err)
	}
	delete(l.drafts, adj.VariantID)
	v := l.variants[adj.VariantID]
	v.ID = adj.VariantID
	v.Stock = res.Stock
	if !l.show(seq, v) {
		l.logger.DebugContext(ctx, "Stock view is newer than the adjustment result", "variant_id", adj.VariantID)
	}
	l.applied.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", adj.Reason)))
	l.logger.InfoContext(ctx, "Stock adjusted", "variant_id", adj.VariantID, "delta", adj.Delta, "stock", res.Stock)
	return res, nil
}

// Retry resends the preserved draft of a variant with its original idempotency key.
func (l *Ledger) Retry(ctx context.Context, variantID string) (backend.StockResult, error) {
	adj, ok := l.Draft(variantID)
	if !ok {
		return backend.StockResult{}, fmt.Errorf("%w: no pending adjustment for variant %s", sferrors.ErrNotFound, variantID)
	}
	return l.Adjust(ctx, adj)
}

// Discard drops the draft of a variant, abandoning the failed adjustment.
func (l *Ledger) Discard(variantID string) (Adjustment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	adj, ok := l.drafts[variantID]
	delete(l.drafts, variantID)
	return adj, ok
}

// Reconcile fetches the variant and replaces the local view, unless an operation started
// after this fetch was applied first. The fetched variant is returned either way.
func (l *Ledger) Reconcile(ctx context.Context, variantID string) (domain.Variant, error) {
	l.mu.Lock()
	seq := l.begin(variantID)
	l.mu.Unlock()

	v, err := l.backend.Variant(ctx, variantID)
	if err != nil {
		return domain.Variant{}, fmt.Errorf("failed to reconcile variant %s: %w", variantID, err)
	}
	v.ID = variantID
	l.mu.Lock()
	l.show(seq, v)
	l.mu.Unlock()
	return v, nil
}

// AdjustAndReconcile runs Adjust followed by Reconcile. If only reconciliation fails,
// the optimistic view is returned together with the error.
func (l *Ledger) AdjustAndReconcile(ctx context.Context, adj Adjustment) (domain.Variant, error) {
	if _, err := l.Adjust(ctx, adj); err != nil {
		return domain.Variant{}, err
	}
	v, err := l.Reconcile(ctx, adj.VariantID)
	if err != nil {
		l.logger.WarnContext(ctx, "Stock reconcile failed after adjustment", "variant_id", adj.VariantID, "error", err)
		view, _ := l.View(adj.VariantID)
		return view, err
	}
	return v, nil
}

// View returns the local view of a variant.
func (l *Ledger) View(variantID string) (domain.Variant, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	v, ok := l.variants[variantID]
	return v, ok
}

// Draft returns the adjustment outstanding for a variant: in flight, or failed and kept for Retry.
func (l *Ledger) Draft(variantID string) (Adjustment, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	adj, ok := l.drafts[variantID]
	return adj, ok
}
