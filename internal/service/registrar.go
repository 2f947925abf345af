package service

import (
	"context"
	"strings"

	"stock-reconciler/internal/models"
	"stock-reconciler/internal/util"

	"go.uber.org/zap"
)

// Subscriber registers one webhook topic with the upstream API.
type Subscriber interface {
	Subscribe(ctx context.Context, applicationID, topic, callbackURL string) (*models.WebhookSubscription, error)
}

// SubscriptionStore persists upstream registrations locally.
type SubscriptionStore interface {
	UpsertWebhookSubscription(ctx context.Context, sub *models.WebhookSubscription) error
}

// Registrar sets up the upstream webhook subscriptions at startup. Failure
// is never fatal: with zero subscriptions the engine still converges through
// polling alone.
type Registrar struct {
	client        Subscriber
	store         SubscriptionStore
	rate          Delayer
	applicationID string
	baseURL       string
	logger        *zap.Logger
}

func NewRegistrar(client Subscriber, store SubscriptionStore, rate Delayer,
	applicationID, webhookBaseURL string) *Registrar {
	return &Registrar{
		client:        client,
		store:         store,
		rate:          rate,
		applicationID: applicationID,
		baseURL:       strings.TrimRight(webhookBaseURL, "/"),
		logger:        util.GetLogger(),
	}
}

// SetupSubscriptions registers every topic the engine handles. The upstream
// requires a public HTTPS callback; a missing or non-HTTPS base URL skips
// registration entirely and the engine runs poll-only.
func (r *Registrar) SetupSubscriptions(ctx context.Context) []models.WebhookSubscription {
	if r.baseURL == "" || !strings.HasPrefix(strings.ToLower(r.baseURL), "https://") {
		r.logger.Warn("Webhook base URL missing or not HTTPS, running poll-only",
			zap.String("webhook_base_url", r.baseURL))
		return nil
	}

	callbackURL := r.baseURL + "/webhooks/receive"
	var subs []models.WebhookSubscription

	for _, topic := range models.SubscriptionTopics() {
		sub, err := r.client.Subscribe(ctx, r.applicationID, topic.String(), callbackURL)
		if err != nil {
			r.logger.Error("Webhook subscription failed",
				zap.String("topic", topic.String()), zap.Error(err))
			continue
		}

		if err := r.store.UpsertWebhookSubscription(ctx, sub); err != nil {
			r.logger.Error("Failed to persist webhook subscription",
				zap.String("topic", topic.String()), zap.Error(err))
		}
		subs = append(subs, *sub)
		r.logger.Info("Webhook subscribed",
			zap.String("topic", topic.String()),
			zap.String("webhook_id", sub.WebhookID))

		// Pause between subscription calls to stay under the rate limit.
		if err := r.rate.Wait(ctx); err != nil {
			break
		}
	}

	r.logger.Info("Webhook setup finished",
		zap.Int("subscribed", len(subs)),
		zap.Int("topics", len(models.SubscriptionTopics())))
	return subs
}
