package broker

import (
	"context"
	"fmt"

	"stock-reconciler/internal/models"
)

// StockNotifier publishes stock change events for downstream real-time
// consumers. Delivery is fire-and-forget from the reconciler's perspective;
// the producer itself retries a bounded number of times.
type StockNotifier struct {
	producer *Producer
}

// NewStockNotifier creates a notifier on top of a Kafka producer.
func NewStockNotifier(producer *Producer) *StockNotifier {
	return &StockNotifier{producer: producer}
}

// PublishStockChanged emits one change event, keyed by product id so
// consumers see per-product updates in order.
func (n *StockNotifier) PublishStockChanged(ctx context.Context, event *models.StockChangedEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return n.producer.PublishEvent(ctx, key, event)
}
