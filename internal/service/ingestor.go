package service

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"stock-reconciler/internal/models"
	"stock-reconciler/internal/util"

	"go.uber.org/zap"
)

// dedupTTL bounds how long a webhook delivery fingerprint is remembered.
// Upstream delivery is at-least-once; redeliveries inside this window are
// acknowledged without reprocessing.
const dedupTTL = 10 * time.Minute

// IngestStore is the subset of the store the ingestor writes.
type IngestStore interface {
	CreateWebhookLog(ctx context.Context, entry *models.WebhookLogEntry) error
	FinishWebhookLog(ctx context.Context, logID int64, processed bool, errMsg string) error
	RecordWebhookLogStock(ctx context.Context, logID int64, oldQty, newQty int) error
	FindByExternalID(ctx context.Context, externalID string) (*models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product) error
	UpdateProductName(ctx context.Context, productID int64, name string) error
	UpsertCustomer(ctx context.Context, customer *models.Customer) error
}

// CustomerFetcher retrieves full customer records for the customer topics,
// whose payloads carry only the identifier.
type CustomerFetcher interface {
	FetchCustomer(ctx context.Context, id string) (*models.Customer, error)
}

// Deduper remembers delivery fingerprints across process restarts. Optional.
type Deduper interface {
	MarkDelivery(ctx context.Context, fingerprint string, ttl time.Duration) (bool, error)
}

type topicHandler func(ctx context.Context, payload *models.WebhookPayload, logID int64) (bool, error)

// Ingestor accepts upstream push events, audits every one of them, and
// dispatches by topic. Handler failures are recorded in the audit row and
// never escape: the HTTP endpoint always acknowledges delivery.
type Ingestor struct {
	store      IngestStore
	matcher    *Matcher
	reconciler *Reconciler
	fetcher    Fetcher
	customers  CustomerFetcher
	dedup      Deduper
	logger     *zap.Logger

	handlers map[models.Topic]topicHandler
}

func NewIngestor(store IngestStore, matcher *Matcher, reconciler *Reconciler,
	fetcher Fetcher, customers CustomerFetcher, dedup Deduper) *Ingestor {
	i := &Ingestor{
		store:      store,
		matcher:    matcher,
		reconciler: reconciler,
		fetcher:    fetcher,
		customers:  customers,
		dedup:      dedup,
		logger:     util.GetLogger(),
	}
	i.handlers = map[models.Topic]topicHandler{
		models.TopicStockUpdate:    i.handleStockUpdate,
		models.TopicProductUpdate:  i.handleProductUpdate,
		models.TopicProductCreate:  i.handleProductCreate,
		models.TopicCustomerCreate: i.handleCustomerUpsert,
		models.TopicCustomerUpdate: i.handleCustomerUpsert,
	}
	return i
}

// Ingest processes one push event end to end and reports whether the
// business outcome was success. Exactly one audit row is written per call,
// regardless of handler success, failure or panic-free error.
func (i *Ingestor) Ingest(ctx context.Context, payload *models.WebhookPayload) bool {
	ctx, span := util.StartSpan(ctx, "Ingestor.Ingest")
	defer span.End()

	topic := models.ParseTopic(payload.Topic)
	util.WebhooksReceivedTotal.WithLabelValues(topic.String()).Inc()

	entry := &models.WebhookLogEntry{
		Topic:       payload.Topic,
		CompanyKey:  payload.CompanyKey,
		ExternalID:  payload.ID,
		ProductCode: payload.Code,
		Payload:     payload.Raw(),
	}
	if err := i.store.CreateWebhookLog(ctx, entry); err != nil {
		i.logger.Error("Failed to persist webhook audit row",
			zap.String("topic", payload.Topic), zap.Error(err))
		return false
	}

	processed, handlerErr := i.dispatch(ctx, topic, payload, entry.ID)

	errMsg := ""
	if handlerErr != nil {
		errMsg = handlerErr.Error()
		processed = false
		i.logger.Error("Webhook handler failed",
			zap.String("topic", payload.Topic),
			zap.Int64("log_id", entry.ID),
			zap.Error(handlerErr))
	}
	if !processed {
		util.WebhooksFailedTotal.WithLabelValues(topic.String()).Inc()
	}

	if err := i.store.FinishWebhookLog(ctx, entry.ID, processed, errMsg); err != nil {
		i.logger.Error("Failed to finalize webhook audit row",
			zap.Int64("log_id", entry.ID), zap.Error(err))
	}

	return processed
}

func (i *Ingestor) dispatch(ctx context.Context, topic models.Topic, payload *models.WebhookPayload, logID int64) (bool, error) {
	if i.dedup != nil {
		first, err := i.dedup.MarkDelivery(ctx, deliveryFingerprint(payload), dedupTTL)
		if err != nil {
			// Dedup is best-effort; reprocessing is safe because apply
			// is idempotent.
			i.logger.Warn("Delivery dedup check failed", zap.Error(err))
		} else if !first {
			i.logger.Info("Duplicate webhook delivery ignored",
				zap.String("topic", payload.Topic),
				zap.String("external_id", payload.ID))
			return true, nil
		}
	}

	handler, ok := i.handlers[topic]
	if !ok {
		i.logger.Warn("Unhandled webhook topic", zap.String("topic", payload.Topic))
		return false, nil
	}
	return handler(ctx, payload, logID)
}

func deliveryFingerprint(payload *models.WebhookPayload) string {
	sum := sha256.Sum256(payload.Raw())
	return hex.EncodeToString(sum[:])
}

// handleStockUpdate applies the quantity carried by the payload directly; no
// extra remote fetch, the event itself is authoritative for stock.
func (i *Ingestor) handleStockUpdate(ctx context.Context, payload *models.WebhookPayload, logID int64) (bool, error) {
	product, err := i.matcher.Resolve(ctx, payload.ID, payload.Code)
	if err != nil {
		return false, err
	}
	if product == nil {
		i.logger.Warn("Stock update for unknown product",
			zap.String("external_id", payload.ID),
			zap.String("code", payload.Code))
		return false, nil
	}

	newQty, ok := payload.Quantity()
	if !ok {
		newQty = 0
	}

	snap := &models.RemoteSnapshot{
		AvailableQuantity: newQty,
		IsActive:          product.IsActive,
	}
	if payload.Active != nil {
		snap.IsActive = *payload.Active
	}

	outcome, err := i.reconciler.Apply(ctx, product.ID, snap, models.SourceWebhook)
	if err != nil {
		return false, err
	}

	if outcome == Applied {
		if err := i.store.RecordWebhookLogStock(ctx, logID, product.AvailableQuantity, newQty); err != nil {
			i.logger.Warn("Failed to annotate webhook log with stock change",
				zap.Int64("log_id", logID), zap.Error(err))
		}
	}
	return true, nil
}

// handleProductUpdate refreshes name, activity and quantity. When the
// payload omits quantity it falls back to a remote fetch so the activity or
// name change is not silently dropped.
func (i *Ingestor) handleProductUpdate(ctx context.Context, payload *models.WebhookPayload, logID int64) (bool, error) {
	product, err := i.matcher.Resolve(ctx, payload.ID, payload.Code)
	if err != nil {
		return false, err
	}
	if product == nil {
		i.logger.Warn("Product update for unknown product",
			zap.String("external_id", payload.ID),
			zap.String("code", payload.Code))
		return false, nil
	}

	if payload.Name != "" && payload.Name != product.Name {
		if err := i.store.UpdateProductName(ctx, product.ID, payload.Name); err != nil {
			return false, fmt.Errorf("failed to rename product %d: %w", product.ID, err)
		}
	}

	snap := &models.RemoteSnapshot{
		AvailableQuantity: product.AvailableQuantity,
		IsActive:          product.IsActive,
	}
	if payload.Active != nil {
		snap.IsActive = *payload.Active
	}

	if qty, ok := payload.Quantity(); ok {
		snap.AvailableQuantity = qty
	} else {
		lookup := payload.ID
		if lookup == "" {
			lookup = payload.Code
		}
		remote, err := i.fetcher.FetchProduct(ctx, lookup)
		if err != nil {
			// Keep the local quantity rather than dropping the event.
			i.logger.Warn("Quantity fallback fetch failed, keeping local stock",
				zap.String("external_id", lookup), zap.Error(err))
		} else {
			snap.AvailableQuantity = remote.AvailableQuantity
			if payload.Active == nil {
				snap.IsActive = remote.IsActive
			}
		}
	}

	outcome, err := i.reconciler.Apply(ctx, product.ID, snap, models.SourceWebhookProduct)
	if err != nil {
		return false, err
	}

	if outcome == Applied && snap.AvailableQuantity != product.AvailableQuantity {
		if err := i.store.RecordWebhookLogStock(ctx, logID, product.AvailableQuantity, snap.AvailableQuantity); err != nil {
			i.logger.Warn("Failed to annotate webhook log with stock change",
				zap.Int64("log_id", logID), zap.Error(err))
		}
	}
	return true, nil
}

// handleProductCreate registers a product first seen through a create
// event. An already-known identifier makes the event a no-op success.
func (i *Ingestor) handleProductCreate(ctx context.Context, payload *models.WebhookPayload, _ int64) (bool, error) {
	if payload.ID == "" {
		return false, fmt.Errorf("product create event without id")
	}

	existing, err := i.store.FindByExternalID(ctx, payload.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		i.logger.Info("Product from create event already known",
			zap.String("external_id", payload.ID),
			zap.Int64("product_id", existing.ID))
		return true, nil
	}

	qty, _ := payload.Quantity()
	product := &models.Product{
		ExternalID:        sql.NullString{String: payload.ID, Valid: true},
		InternalCode:      payload.Code,
		Name:              payload.Name,
		AvailableQuantity: qty,
		IsActive:          payload.Active == nil || *payload.Active,
	}
	if err := i.store.CreateProduct(ctx, product); err != nil {
		return false, fmt.Errorf("failed to create product from webhook: %w", err)
	}

	i.logger.Info("New product registered from webhook",
		zap.String("external_id", payload.ID),
		zap.Int64("product_id", product.ID),
		zap.String("name", payload.Name))
	return true, nil
}

// handleCustomerUpsert serves both customer topics: the payload only carries
// the id, the full record comes from a remote fetch.
func (i *Ingestor) handleCustomerUpsert(ctx context.Context, payload *models.WebhookPayload, _ int64) (bool, error) {
	if payload.ID == "" {
		i.logger.Warn("Customer event without id", zap.String("topic", payload.Topic))
		return false, nil
	}

	customer, err := i.customers.FetchCustomer(ctx, payload.ID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch customer %s: %w", payload.ID, err)
	}
	if err := i.store.UpsertCustomer(ctx, customer); err != nil {
		return false, fmt.Errorf("failed to upsert customer %s: %w", payload.ID, err)
	}

	i.logger.Info("Customer mirrored from webhook",
		zap.String("customer_id", customer.ExternalID),
		zap.String("topic", payload.Topic))
	return true, nil
}
