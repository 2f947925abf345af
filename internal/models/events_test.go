package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTopicCanonicalNames(t *testing.T) {
	assert.Equal(t, TopicStockUpdate, ParseTopic("products.stock.update"))
	assert.Equal(t, TopicProductCreate, ParseTopic("products.create"))
	assert.Equal(t, TopicProductUpdate, ParseTopic("products.update"))
	assert.Equal(t, TopicCustomerCreate, ParseTopic("customers.create"))
	assert.Equal(t, TopicCustomerUpdate, ParseTopic("customers.update"))
	assert.Equal(t, TopicUnknown, ParseTopic("invoices.create"))
	assert.Equal(t, TopicUnknown, ParseTopic(""))
}

func TestParseTopicToleratesPublisherPrefix(t *testing.T) {
	assert.Equal(t, TopicStockUpdate, ParseTopic("public.erpapi.products.stock.update"))
	assert.Equal(t, TopicCustomerUpdate, ParseTopic("public.erpapi.customers.update"))
}

func TestParseTopicStockBeforeProductUpdate(t *testing.T) {
	// "products.stock.update" must not be swallowed by the broader
	// "products.update" suffix check.
	assert.Equal(t, TopicStockUpdate, ParseTopic("x.products.stock.update"))
}

func TestTopicStringRoundTrip(t *testing.T) {
	for _, topic := range SubscriptionTopics() {
		assert.Equal(t, topic, ParseTopic(topic.String()))
	}
	assert.Equal(t, "unknown", TopicUnknown.String())
}

func TestPayloadQuantityAliasPrecedence(t *testing.T) {
	qty := func(v int) *int { return &v }

	p := &WebhookPayload{AvailableQuantity: qty(1), NewStock: qty(2), Stock: qty(3)}
	got, ok := p.Quantity()
	assert.True(t, ok)
	assert.Equal(t, 1, got)

	p = &WebhookPayload{NewStock: qty(2), Stock: qty(3)}
	got, _ = p.Quantity()
	assert.Equal(t, 2, got)

	p = &WebhookPayload{Stock: qty(0)}
	got, ok = p.Quantity()
	assert.True(t, ok, "explicit zero is still a value")
	assert.Equal(t, 0, got)

	_, ok = (&WebhookPayload{}).Quantity()
	assert.False(t, ok)
}

func TestPayloadUnmarshalKeepsRawBytes(t *testing.T) {
	body := []byte(`{"topic": "products.stock.update", "id": "uuid-1", "new_stock": 7, "extra": "field"}`)

	var p WebhookPayload
	require.NoError(t, p.UnmarshalFrom(body))

	assert.Equal(t, "uuid-1", p.ID)
	got, ok := p.Quantity()
	assert.True(t, ok)
	assert.Equal(t, 7, got)
	assert.Equal(t, body, []byte(p.Raw()), "audit log needs the original bytes, unknown fields included")
}

func TestPayloadUnmarshalRejectsMalformedBody(t *testing.T) {
	var p WebhookPayload
	assert.Error(t, p.UnmarshalFrom([]byte(`{"topic":`)))
}
