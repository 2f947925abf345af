package models

import (
	"database/sql"
	"time"
)

// Product is the locally cached copy of an upstream ERP product. Stock and
// activity fields are written only by the reconciler.
type Product struct {
	ID                int64          `db:"id" json:"id"`
	ExternalID        sql.NullString `db:"external_id" json:"external_id,omitempty"`
	InternalCode      string         `db:"internal_code" json:"internal_code"`
	Name              string         `db:"name" json:"name"`
	AvailableQuantity int            `db:"available_quantity" json:"available_quantity"`
	IsActive          bool           `db:"is_active" json:"is_active"`
	StockUpdatedAt    sql.NullTime   `db:"stock_updated_at" json:"stock_updated_at,omitempty"`
	LastSyncAt        sql.NullTime   `db:"last_sync_at" json:"last_sync_at,omitempty"`
	CreatedAt         time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time      `db:"updated_at" json:"updated_at"`
}

// ExternalIDString returns the external identifier or "" when unset.
func (p *Product) ExternalIDString() string {
	if p.ExternalID.Valid {
		return p.ExternalID.String
	}
	return ""
}

// RemoteSnapshot is the normalized upstream view of one product.
type RemoteSnapshot struct {
	AvailableQuantity int    `json:"available_quantity"`
	IsActive          bool   `json:"is_active"`
	Name              string `json:"name,omitempty"`
}

// WebhookSubscription mirrors one upstream webhook registration.
type WebhookSubscription struct {
	WebhookID     string    `db:"webhook_id" json:"webhook_id"`
	ApplicationID string    `db:"application_id" json:"application_id"`
	Topic         string    `db:"topic" json:"topic"`
	URL           string    `db:"url" json:"url"`
	CompanyKey    string    `db:"company_key" json:"company_key"`
	Active        bool      `db:"active" json:"active"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// WebhookLogEntry is the append-only audit row for one inbound push event.
// Created unprocessed, updated exactly once with the terminal outcome.
type WebhookLogEntry struct {
	ID           int64          `db:"id" json:"id"`
	Topic        string         `db:"topic" json:"topic"`
	CompanyKey   string         `db:"company_key" json:"company_key"`
	ExternalID   string         `db:"external_id" json:"external_id"`
	ProductCode  string         `db:"product_code" json:"product_code"`
	Payload      []byte         `db:"payload" json:"payload"`
	Processed    bool           `db:"processed" json:"processed"`
	ErrorMessage sql.NullString `db:"error_message" json:"error_message,omitempty"`
	OldQuantity  sql.NullInt64  `db:"old_quantity" json:"old_quantity,omitempty"`
	NewQuantity  sql.NullInt64  `db:"new_quantity" json:"new_quantity,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}

// Customer is the local mirror of an upstream customer record, maintained by
// the customer webhook handlers.
type Customer struct {
	ExternalID     string    `db:"external_id" json:"external_id"`
	Identification string    `db:"identification" json:"identification"`
	Name           string    `db:"name" json:"name"`
	Email          string    `db:"email" json:"email"`
	Active         bool      `db:"active" json:"active"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// CycleStats summarizes one polling cycle for the admin status endpoint.
type CycleStats struct {
	StartedAt   time.Time `json:"started_at"`
	DurationMS  int64     `json:"duration_ms"`
	Processed   int       `json:"processed"`
	Updated     int       `json:"updated"`
	Unchanged   int       `json:"unchanged"`
	Suppressed  int       `json:"suppressed"`
	Deactivated int       `json:"deactivated"`
	Errors      int       `json:"errors"`
}
