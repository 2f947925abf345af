package service

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"stock-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory ProductStore and PollStore shared by the
// reconciler and poller tests.
type memStore struct {
	mu       sync.Mutex
	products map[int64]*models.Product
	order    []int64
}

func newMemStore(products ...*models.Product) *memStore {
	s := &memStore{products: make(map[int64]*models.Product)}
	for _, p := range products {
		s.products[p.ID] = p
		s.order = append(s.order, p.ID)
	}
	return s
}

func (s *memStore) GetProductByID(_ context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *p
	return &copied, nil
}

func (s *memStore) ApplyStock(_ context.Context, id int64, quantity int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.AvailableQuantity = quantity
	p.IsActive = active
	now := time.Now()
	p.StockUpdatedAt = sql.NullTime{Time: now, Valid: true}
	p.LastSyncAt = sql.NullTime{Time: now, Valid: true}
	return nil
}

func (s *memStore) TouchLastSync(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[id].LastSyncAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (s *memStore) DeactivateProduct(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.products[id]
	p.IsActive = false
	p.LastSyncAt = sql.NullTime{Time: time.Now(), Valid: true}
	return nil
}

func (s *memStore) GetStaleProducts(_ context.Context, limit int) ([]models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Product
	for _, id := range s.order {
		if len(out) == limit {
			break
		}
		out = append(out, *s.products[id])
	}
	return out, nil
}

func (s *memStore) FindByExternalID(_ context.Context, externalID string) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.products {
		if p.ExternalIDString() == externalID {
			copied := *p
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memStore) get(id int64) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.products[id]
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []models.StockChangedEvent
}

func (n *fakeNotifier) PublishStockChanged(_ context.Context, event *models.StockChangedEvent) error {
	n.mu.Lock()
	n.events = append(n.events, *event)
	n.mu.Unlock()
	return nil
}

func testProduct(id int64, externalID string, quantity int, active bool) *models.Product {
	return &models.Product{
		ID:                id,
		ExternalID:        sql.NullString{String: externalID, Valid: externalID != ""},
		InternalCode:      "INT-1",
		Name:              "Test Product",
		AvailableQuantity: quantity,
		IsActive:          active,
	}
}

func TestApplyChangedSnapshot(t *testing.T) {
	store := newMemStore(testProduct(1, "uuid-1", 37, true))
	notifier := &fakeNotifier{}
	r := NewReconciler(store, NewAntiRollbackGuard(2*time.Minute), notifier)

	outcome, err := r.Apply(context.Background(), 1,
		&models.RemoteSnapshot{AvailableQuantity: 28, IsActive: true}, models.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)

	got := store.get(1)
	assert.Equal(t, 28, got.AvailableQuantity)
	assert.True(t, got.StockUpdatedAt.Valid)
	assert.True(t, got.LastSyncAt.Valid)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, 37, notifier.events[0].OldQuantity)
	assert.Equal(t, 28, notifier.events[0].NewQuantity)
	assert.Equal(t, models.SourcePoll, notifier.events[0].Source)
}

func TestApplyUnchangedSnapshotIsIdempotent(t *testing.T) {
	store := newMemStore(testProduct(1, "uuid-1", 28, true))
	notifier := &fakeNotifier{}
	r := NewReconciler(store, NewAntiRollbackGuard(2*time.Minute), notifier)

	snap := &models.RemoteSnapshot{AvailableQuantity: 28, IsActive: true}

	for i := 0; i < 2; i++ {
		outcome, err := r.Apply(context.Background(), 1, snap, models.SourcePoll)
		require.NoError(t, err)
		assert.Equal(t, Skipped, outcome)
	}

	got := store.get(1)
	assert.Equal(t, 28, got.AvailableQuantity)
	assert.False(t, got.StockUpdatedAt.Valid, "unchanged snapshots must not touch stock_updated_at")
	assert.True(t, got.LastSyncAt.Valid)
	assert.Empty(t, notifier.events)
}

func TestApplySuppressedByRecentLocalDecrement(t *testing.T) {
	store := newMemStore(testProduct(1, "uuid-1", 10, true))
	notifier := &fakeNotifier{}
	guard := NewAntiRollbackGuard(2 * time.Minute)
	r := NewReconciler(store, guard, notifier)

	// A local sale just decremented stock to 8; upstream still reports 15.
	guard.Mark(1, 8)

	outcome, err := r.Apply(context.Background(), 1,
		&models.RemoteSnapshot{AvailableQuantity: 15, IsActive: true}, models.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, Suppressed, outcome)

	got := store.get(1)
	assert.Equal(t, 10, got.AvailableQuantity, "suppressed apply must not overwrite the row")
	assert.False(t, got.StockUpdatedAt.Valid)
	assert.True(t, got.LastSyncAt.Valid)
	assert.Empty(t, notifier.events)

	// The same stale read keeps being suppressed inside the window.
	outcome, err = r.Apply(context.Background(), 1,
		&models.RemoteSnapshot{AvailableQuantity: 15, IsActive: true}, models.SourceWebhook)
	require.NoError(t, err)
	assert.Equal(t, Suppressed, outcome)
}

func TestApplyAllowedAfterGuardWindowExpires(t *testing.T) {
	store := newMemStore(testProduct(1, "uuid-1", 10, true))
	guard := NewAntiRollbackGuard(2 * time.Minute)
	now := time.Now()
	guard.now = func() time.Time { return now }
	r := NewReconciler(store, guard, &fakeNotifier{})

	guard.Mark(1, 8)
	now = now.Add(2 * time.Minute)

	outcome, err := r.Apply(context.Background(), 1,
		&models.RemoteSnapshot{AvailableQuantity: 15, IsActive: true}, models.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 15, store.get(1).AvailableQuantity)
}

func TestApplyUpstreamCatchUpClearsGuard(t *testing.T) {
	store := newMemStore(testProduct(1, "uuid-1", 10, true))
	guard := NewAntiRollbackGuard(2 * time.Minute)
	r := NewReconciler(store, guard, &fakeNotifier{})

	guard.Mark(1, 8)

	outcome, err := r.Apply(context.Background(), 1,
		&models.RemoteSnapshot{AvailableQuantity: 8, IsActive: true}, models.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
	assert.Equal(t, 8, store.get(1).AvailableQuantity)

	// Guard cleared: a later higher upstream value now applies.
	outcome, err = r.Apply(context.Background(), 1,
		&models.RemoteSnapshot{AvailableQuantity: 20, IsActive: true}, models.SourcePoll)
	require.NoError(t, err)
	assert.Equal(t, Applied, outcome)
}

func TestDeactivateKeepsQuantity(t *testing.T) {
	store := newMemStore(testProduct(1, "uuid-1", 42, true))
	notifier := &fakeNotifier{}
	r := NewReconciler(store, NewAntiRollbackGuard(2*time.Minute), notifier)

	require.NoError(t, r.Deactivate(context.Background(), 1, models.SourcePoll))

	got := store.get(1)
	assert.False(t, got.IsActive)
	assert.Equal(t, 42, got.AvailableQuantity)
	assert.True(t, got.LastSyncAt.Valid)

	require.Len(t, notifier.events, 1)
	assert.True(t, notifier.events[0].OldActive)
	assert.False(t, notifier.events[0].NewActive)
}

func TestDeactivateAlreadyInactiveIsQuiet(t *testing.T) {
	store := newMemStore(testProduct(1, "uuid-1", 0, false))
	notifier := &fakeNotifier{}
	r := NewReconciler(store, NewAntiRollbackGuard(2*time.Minute), notifier)

	require.NoError(t, r.Deactivate(context.Background(), 1, models.SourcePoll))
	assert.Empty(t, notifier.events)
}
