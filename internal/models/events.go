package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Topic is the closed set of upstream event kinds this engine handles.
type Topic int

const (
	TopicUnknown Topic = iota
	TopicProductCreate
	TopicProductUpdate
	TopicStockUpdate
	TopicCustomerCreate
	TopicCustomerUpdate
)

const (
	topicProductCreate  = "products.create"
	topicProductUpdate  = "products.update"
	topicStockUpdate    = "products.stock.update"
	topicCustomerCreate = "customers.create"
	topicCustomerUpdate = "customers.update"
)

// ParseTopic maps a raw topic string to a Topic. Upstream prefixes the topic
// with a publisher namespace (e.g. "public.erpapi."), so matching is done on
// the trailing segments.
func ParseTopic(raw string) Topic {
	switch {
	case strings.HasSuffix(raw, topicStockUpdate):
		return TopicStockUpdate
	case strings.HasSuffix(raw, topicProductCreate):
		return TopicProductCreate
	case strings.HasSuffix(raw, topicProductUpdate):
		return TopicProductUpdate
	case strings.HasSuffix(raw, topicCustomerCreate):
		return TopicCustomerCreate
	case strings.HasSuffix(raw, topicCustomerUpdate):
		return TopicCustomerUpdate
	default:
		return TopicUnknown
	}
}

// String returns the canonical topic name used for subscriptions and metrics.
func (t Topic) String() string {
	switch t {
	case TopicProductCreate:
		return topicProductCreate
	case TopicProductUpdate:
		return topicProductUpdate
	case TopicStockUpdate:
		return topicStockUpdate
	case TopicCustomerCreate:
		return topicCustomerCreate
	case TopicCustomerUpdate:
		return topicCustomerUpdate
	default:
		return "unknown"
	}
}

// SubscriptionTopics are the topics the registrar subscribes to upstream.
func SubscriptionTopics() []Topic {
	return []Topic{
		TopicProductCreate,
		TopicProductUpdate,
		TopicStockUpdate,
		TopicCustomerCreate,
		TopicCustomerUpdate,
	}
}

// WebhookPayload is the upstream push event body. Quantity fields are
// pointers because absence and zero mean different things.
type WebhookPayload struct {
	Topic             string `json:"topic"`
	ID                string `json:"id"`
	Code              string `json:"code"`
	Name              string `json:"name"`
	AvailableQuantity *int   `json:"available_quantity,omitempty"`
	NewStock          *int   `json:"new_stock,omitempty"`
	Stock             *int   `json:"stock,omitempty"`
	Active            *bool  `json:"active,omitempty"`
	CompanyKey        string `json:"company_key"`

	raw json.RawMessage
}

// UnmarshalFrom decodes the payload and keeps the original bytes for the
// audit log.
func (p *WebhookPayload) UnmarshalFrom(data []byte) error {
	if err := json.Unmarshal(data, p); err != nil {
		return err
	}
	p.SetRaw(data)
	return nil
}

// Quantity returns the stock value carried by the payload, trying the field
// aliases upstream has used over time.
func (p *WebhookPayload) Quantity() (int, bool) {
	switch {
	case p.AvailableQuantity != nil:
		return *p.AvailableQuantity, true
	case p.NewStock != nil:
		return *p.NewStock, true
	case p.Stock != nil:
		return *p.Stock, true
	default:
		return 0, false
	}
}

// Raw returns the original payload bytes for audit logging.
func (p *WebhookPayload) Raw() []byte {
	if p.raw != nil {
		return p.raw
	}
	b, _ := json.Marshal(p)
	return b
}

// SetRaw stores the original payload bytes.
func (p *WebhookPayload) SetRaw(b []byte) {
	p.raw = append(json.RawMessage(nil), b...)
}

// ChangeSource identifies which ingress path produced a stock change.
const (
	SourcePoll           = "scheduled_sync"
	SourceWebhook        = "webhook"
	SourceWebhookProduct = "webhook_product_update"
	SourceManual         = "manual_sync"
)

// StockChangedEvent is published to the change notifier whenever the
// reconciler applies a remote snapshot.
type StockChangedEvent struct {
	EventID     string    `json:"event_id"`
	ProductID   int64     `json:"product_id"`
	ExternalID  string    `json:"external_id"`
	ProductName string    `json:"product_name"`
	OldQuantity int       `json:"old_quantity"`
	NewQuantity int       `json:"new_quantity"`
	OldActive   bool      `json:"old_active"`
	NewActive   bool      `json:"new_active"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
}
