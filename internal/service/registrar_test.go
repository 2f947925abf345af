package service

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"stock-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
)

type fakeSubscriber struct {
	calls   []string
	failOn  map[string]bool
	lastURL string
}

func (f *fakeSubscriber) Subscribe(_ context.Context, applicationID, topic, callbackURL string) (*models.WebhookSubscription, error) {
	f.calls = append(f.calls, topic)
	f.lastURL = callbackURL
	if f.failOn[topic] {
		return nil, errors.New("subscription rejected")
	}
	return &models.WebhookSubscription{
		WebhookID:     fmt.Sprintf("wh-%d", len(f.calls)),
		ApplicationID: applicationID,
		Topic:         topic,
		URL:           callbackURL,
		Active:        true,
	}, nil
}

type fakeSubStore struct {
	saved []models.WebhookSubscription
}

func (f *fakeSubStore) UpsertWebhookSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	f.saved = append(f.saved, *sub)
	return nil
}

func TestSetupSubscriptionsRegistersAllTopics(t *testing.T) {
	client := &fakeSubscriber{}
	store := &fakeSubStore{}
	r := NewRegistrar(client, store, zeroDelay{}, "app-1", "https://sync.example.com/")

	subs := r.SetupSubscriptions(context.Background())

	assert.Len(t, subs, len(models.SubscriptionTopics()))
	assert.Len(t, store.saved, len(models.SubscriptionTopics()))
	assert.Equal(t, "https://sync.example.com/webhooks/receive", client.lastURL)
}

func TestSetupSubscriptionsRequiresHTTPS(t *testing.T) {
	client := &fakeSubscriber{}
	r := NewRegistrar(client, &fakeSubStore{}, zeroDelay{}, "app-1", "http://sync.example.com")

	assert.Nil(t, r.SetupSubscriptions(context.Background()))
	assert.Empty(t, client.calls, "non-HTTPS callback must skip registration entirely")
}

func TestSetupSubscriptionsEmptyBaseURL(t *testing.T) {
	client := &fakeSubscriber{}
	r := NewRegistrar(client, &fakeSubStore{}, zeroDelay{}, "app-1", "")

	assert.Nil(t, r.SetupSubscriptions(context.Background()))
	assert.Empty(t, client.calls)
}

func TestSetupSubscriptionsContinuesPastFailures(t *testing.T) {
	client := &fakeSubscriber{failOn: map[string]bool{"products.update": true}}
	store := &fakeSubStore{}
	r := NewRegistrar(client, store, zeroDelay{}, "app-1", "https://sync.example.com")

	subs := r.SetupSubscriptions(context.Background())

	assert.Len(t, client.calls, len(models.SubscriptionTopics()))
	assert.Len(t, subs, len(models.SubscriptionTopics())-1)
	for _, sub := range store.saved {
		assert.NotEqual(t, "products.update", sub.Topic)
	}
}
