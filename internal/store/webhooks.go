package store

import (
	"context"
	"database/sql"

	"stock-reconciler/internal/models"
)

// CreateWebhookLog persists the audit row for an inbound event, unprocessed.
// Returns the new log id.
func (s *Store) CreateWebhookLog(ctx context.Context, entry *models.WebhookLogEntry) error {
	query := `
		INSERT INTO webhook_logs (topic, company_key, external_id, product_code, payload)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, entry, query,
		entry.Topic, entry.CompanyKey, entry.ExternalID, entry.ProductCode, entry.Payload)
}

// FinishWebhookLog records the terminal outcome of an event. errMsg of ""
// stores NULL.
func (s *Store) FinishWebhookLog(ctx context.Context, logID int64, processed bool, errMsg string) error {
	var msg sql.NullString
	if errMsg != "" {
		msg = sql.NullString{String: errMsg, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_logs
		SET processed = $1, error_message = $2, updated_at = NOW()
		WHERE id = $3`, processed, msg, logID)
	return err
}

// RecordWebhookLogStock annotates a stock-update log row with the observed
// quantity transition.
func (s *Store) RecordWebhookLogStock(ctx context.Context, logID int64, oldQty, newQty int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE webhook_logs
		SET old_quantity = $1, new_quantity = $2, updated_at = NOW()
		WHERE id = $3`, oldQty, newQty, logID)
	return err
}

// GetWebhookLogs returns the most recent audit rows.
func (s *Store) GetWebhookLogs(ctx context.Context, limit int) ([]models.WebhookLogEntry, error) {
	var logs []models.WebhookLogEntry
	err := s.db.SelectContext(ctx, &logs,
		"SELECT * FROM webhook_logs ORDER BY created_at DESC LIMIT $1", limit)
	return logs, err
}

// UpsertWebhookSubscription stores or refreshes one upstream registration.
func (s *Store) UpsertWebhookSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (webhook_id, application_id, topic, url, company_key, active)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (webhook_id) DO UPDATE
		SET active = EXCLUDED.active, url = EXCLUDED.url, updated_at = NOW()`,
		sub.WebhookID, sub.ApplicationID, sub.Topic, sub.URL, sub.CompanyKey, sub.Active)
	return err
}

// GetActiveSubscriptions lists registrations the upstream still delivers to.
func (s *Store) GetActiveSubscriptions(ctx context.Context) ([]models.WebhookSubscription, error) {
	var subs []models.WebhookSubscription
	err := s.db.SelectContext(ctx, &subs,
		"SELECT * FROM webhook_subscriptions WHERE active = true ORDER BY created_at DESC")
	return subs, err
}

// UpsertCustomer mirrors an upstream customer record locally.
func (s *Store) UpsertCustomer(ctx context.Context, customer *models.Customer) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (external_id, identification, name, email, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (external_id) DO UPDATE
		SET identification = EXCLUDED.identification,
		    name = EXCLUDED.name,
		    email = EXCLUDED.email,
		    active = EXCLUDED.active,
		    updated_at = NOW()`,
		customer.ExternalID, customer.Identification, customer.Name, customer.Email, customer.Active)
	return err
}

// GetStockStats aggregates sync coverage for the admin status endpoint.
func (s *Store) GetStockStats(ctx context.Context) (map[string]interface{}, error) {
	var row struct {
		TotalProducts  int          `db:"total_products"`
		SyncedProducts int          `db:"synced_products"`
		UpdatedToday   int          `db:"updated_today"`
		LastSyncTime   sql.NullTime `db:"last_sync_time"`
	}
	err := s.db.GetContext(ctx, &row, `
		SELECT COUNT(*) AS total_products,
		       COUNT(last_sync_at) AS synced_products,
		       COUNT(*) FILTER (WHERE stock_updated_at > NOW() - INTERVAL '1 day') AS updated_today,
		       MAX(last_sync_at) AS last_sync_time
		FROM products
		WHERE external_id IS NOT NULL`)
	if err != nil {
		return nil, err
	}

	stats := map[string]interface{}{
		"total_products":  row.TotalProducts,
		"synced_products": row.SyncedProducts,
		"updated_today":   row.UpdatedToday,
	}
	if row.LastSyncTime.Valid {
		stats["last_sync_time"] = row.LastSyncTime.Time
	}
	return stats, nil
}
