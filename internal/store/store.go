package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-reconciler/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by local id.
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetStaleProducts selects up to limit products that have an external
// identifier, least-recently-synced first. Never-synced rows sort first.
func (s *Store) GetStaleProducts(ctx context.Context, limit int) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, `
		SELECT * FROM products
		WHERE external_id IS NOT NULL
		ORDER BY last_sync_at ASC NULLS FIRST
		LIMIT $1`, limit)
	return products, err
}

// FindActiveByExternalID looks up an active product by external identifier.
// Returns (nil, nil) when no row matches.
func (s *Store) FindActiveByExternalID(ctx context.Context, externalID string) (*models.Product, error) {
	return s.findOne(ctx,
		"SELECT * FROM products WHERE external_id = $1 AND is_active = true LIMIT 1", externalID)
}

// FindByExternalID looks up a product by external identifier regardless of
// activity. Returns (nil, nil) when no row matches.
func (s *Store) FindByExternalID(ctx context.Context, externalID string) (*models.Product, error) {
	return s.findOne(ctx,
		"SELECT * FROM products WHERE external_id = $1 LIMIT 1", externalID)
}

// FindByInternalCode looks up a product by the human-assigned code column.
// Returns (nil, nil) when no row matches.
func (s *Store) FindByInternalCode(ctx context.Context, code string) (*models.Product, error) {
	return s.findOne(ctx,
		"SELECT * FROM products WHERE internal_code = $1 LIMIT 1", code)
}

func (s *Store) findOne(ctx context.Context, query string, arg interface{}) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, query, arg)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ApplyStock writes the reconciled stock and activity in one transactional
// update, advancing both stock_updated_at and last_sync_at.
func (s *Store) ApplyStock(ctx context.Context, productID int64, quantity int, active bool) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE products
		SET available_quantity = $1,
		    is_active = $2,
		    stock_updated_at = NOW(),
		    last_sync_at = NOW(),
		    updated_at = NOW()
		WHERE id = $3`, quantity, active, productID)
	if err != nil {
		return fmt.Errorf("failed to apply stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product not found: %d", productID)
	}

	return tx.Commit()
}

// TouchLastSync records a successful reconciliation attempt that changed
// nothing.
func (s *Store) TouchLastSync(ctx context.Context, productID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET last_sync_at = NOW(), updated_at = NOW() WHERE id = $1", productID)
	return err
}

// DeactivateProduct marks a product inactive after upstream confirmed its
// absence. Quantity is left untouched.
func (s *Store) DeactivateProduct(ctx context.Context, productID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET is_active = false,
		    last_sync_at = NOW(),
		    updated_at = NOW()
		WHERE id = $1`, productID)
	return err
}

// UpdateProductName renames a product. Stock and activity stay with the
// reconciler's transactional path.
func (s *Store) UpdateProductName(ctx context.Context, productID int64, name string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET name = $1, updated_at = NOW() WHERE id = $2", name, productID)
	return err
}

// CreateProduct inserts a product discovered through a create event.
func (s *Store) CreateProduct(ctx context.Context, product *models.Product) error {
	query := `
		INSERT INTO products (external_id, internal_code, name, available_quantity, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, product, query,
		product.ExternalID, product.InternalCode, product.Name,
		product.AvailableQuantity, product.IsActive)
}
