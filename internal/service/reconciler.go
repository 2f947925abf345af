package service

import (
	"context"
	"fmt"
	"time"

	"stock-reconciler/internal/models"
	"stock-reconciler/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Outcome is the result of one reconciliation attempt.
type Outcome int

const (
	Applied Outcome = iota
	Skipped
	Suppressed
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Skipped:
		return "skipped"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// ProductStore is the subset of the store the reconciler writes through.
type ProductStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	ApplyStock(ctx context.Context, productID int64, quantity int, active bool) error
	TouchLastSync(ctx context.Context, productID int64) error
	DeactivateProduct(ctx context.Context, productID int64) error
}

// Notifier receives change events for downstream consumers. Fire-and-forget:
// publish failures are logged, never propagated.
type Notifier interface {
	PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error
}

// Reconciler is the single choke point through which both ingress paths
// write product stock and activity. Each apply is serialized per product id
// and re-reads the row under the lock, so concurrent poll and webhook
// updates for the same product cannot interleave.
type Reconciler struct {
	store    ProductStore
	guard    *AntiRollbackGuard
	notifier Notifier
	locks    *keyedMutex
	logger   *zap.Logger
}

func NewReconciler(store ProductStore, guard *AntiRollbackGuard, notifier Notifier) *Reconciler {
	return &Reconciler{
		store:    store,
		guard:    guard,
		notifier: notifier,
		locks:    newKeyedMutex(),
		logger:   util.GetLogger(),
	}
}

// Apply compares a remote snapshot against the current local row and
// conditionally applies it.
//
// An unchanged snapshot only advances last_sync_at. A snapshot the
// anti-rollback guard rejects also only advances last_sync_at, leaving the
// locally decremented quantity in place. Otherwise quantity, activity and
// both timestamps are written in one transactional update and a change event
// is published.
func (r *Reconciler) Apply(ctx context.Context, productID int64, snap *models.RemoteSnapshot, source string) (Outcome, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Apply")
	defer span.End()

	unlock := r.locks.Lock(productID)
	defer unlock()

	product, err := r.store.GetProductByID(ctx, productID)
	if err != nil {
		return Skipped, fmt.Errorf("failed to load product %d: %w", productID, err)
	}

	stockChanged := snap.AvailableQuantity != product.AvailableQuantity
	activeChanged := snap.IsActive != product.IsActive

	if !stockChanged && !activeChanged {
		if err := r.store.TouchLastSync(ctx, productID); err != nil {
			return Skipped, err
		}
		util.ReconcileOutcomesTotal.WithLabelValues("skipped", source).Inc()
		return Skipped, nil
	}

	if r.guard.Check(productID, snap.AvailableQuantity) == Suppress {
		r.logger.Info("Anti-rollback guard suppressed upstream value",
			zap.Int64("product_id", productID),
			zap.Int("local_quantity", product.AvailableQuantity),
			zap.Int("upstream_quantity", snap.AvailableQuantity),
			zap.String("source", source))
		if err := r.store.TouchLastSync(ctx, productID); err != nil {
			return Suppressed, err
		}
		util.AntiRollbackSuppressedTotal.Inc()
		util.ReconcileOutcomesTotal.WithLabelValues("suppressed", source).Inc()
		return Suppressed, nil
	}

	if err := r.store.ApplyStock(ctx, productID, snap.AvailableQuantity, snap.IsActive); err != nil {
		return Skipped, fmt.Errorf("failed to apply stock for product %d: %w", productID, err)
	}

	r.logger.Info("Product reconciled",
		zap.Int64("product_id", productID),
		zap.String("product_name", product.Name),
		zap.Int("old_quantity", product.AvailableQuantity),
		zap.Int("new_quantity", snap.AvailableQuantity),
		zap.Bool("old_active", product.IsActive),
		zap.Bool("new_active", snap.IsActive),
		zap.String("source", source))

	r.publish(ctx, &models.StockChangedEvent{
		EventID:     uuid.New().String(),
		ProductID:   product.ID,
		ExternalID:  product.ExternalIDString(),
		ProductName: product.Name,
		OldQuantity: product.AvailableQuantity,
		NewQuantity: snap.AvailableQuantity,
		OldActive:   product.IsActive,
		NewActive:   snap.IsActive,
		Source:      source,
		Timestamp:   time.Now().UTC(),
	})

	util.ReconcileOutcomesTotal.WithLabelValues("applied", source).Inc()
	return Applied, nil
}

// Deactivate marks a product inactive after the upstream confirmed its
// absence. Absence is itself the signal, so this bypasses the diff and guard
// logic but still holds the per-product lock.
func (r *Reconciler) Deactivate(ctx context.Context, productID int64, source string) error {
	ctx, span := util.StartSpan(ctx, "Reconciler.Deactivate")
	defer span.End()

	unlock := r.locks.Lock(productID)
	defer unlock()

	product, err := r.store.GetProductByID(ctx, productID)
	if err != nil {
		return fmt.Errorf("failed to load product %d: %w", productID, err)
	}

	if err := r.store.DeactivateProduct(ctx, productID); err != nil {
		return fmt.Errorf("failed to deactivate product %d: %w", productID, err)
	}

	if product.IsActive {
		r.logger.Warn("Product not found upstream, marked inactive",
			zap.Int64("product_id", productID),
			zap.String("external_id", product.ExternalIDString()))

		r.publish(ctx, &models.StockChangedEvent{
			EventID:     uuid.New().String(),
			ProductID:   product.ID,
			ExternalID:  product.ExternalIDString(),
			ProductName: product.Name,
			OldQuantity: product.AvailableQuantity,
			NewQuantity: product.AvailableQuantity,
			OldActive:   true,
			NewActive:   false,
			Source:      source,
			Timestamp:   time.Now().UTC(),
		})
	}

	return nil
}

// TouchLastSync records a reconciliation attempt that deliberately changed
// nothing (invalid identifier, guard suppression handled by Apply).
func (r *Reconciler) TouchLastSync(ctx context.Context, productID int64) error {
	return r.store.TouchLastSync(ctx, productID)
}

func (r *Reconciler) publish(ctx context.Context, event *models.StockChangedEvent) {
	if r.notifier == nil {
		return
	}
	if err := r.notifier.PublishStockChanged(ctx, event); err != nil {
		r.logger.Error("Failed to publish stock change event",
			zap.Int64("product_id", event.ProductID),
			zap.Error(err))
	}
}
