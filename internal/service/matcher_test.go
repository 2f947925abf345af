package service

import (
	"context"
	"database/sql"
	"testing"

	"stock-reconciler/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFinder records lookup order so tests can assert the cascade.
type fakeFinder struct {
	activeByExternal map[string]*models.Product
	byExternal       map[string]*models.Product
	byInternal       map[string]*models.Product
	calls            []string
}

func (f *fakeFinder) FindActiveByExternalID(_ context.Context, id string) (*models.Product, error) {
	f.calls = append(f.calls, "active_external:"+id)
	return f.activeByExternal[id], nil
}

func (f *fakeFinder) FindByExternalID(_ context.Context, id string) (*models.Product, error) {
	f.calls = append(f.calls, "external:"+id)
	return f.byExternal[id], nil
}

func (f *fakeFinder) FindByInternalCode(_ context.Context, code string) (*models.Product, error) {
	f.calls = append(f.calls, "internal:"+code)
	return f.byInternal[code], nil
}

func productWithID(id int64) *models.Product {
	return &models.Product{ID: id, ExternalID: sql.NullString{String: "ext", Valid: true}}
}

func TestMatcherPrefersActiveExternalID(t *testing.T) {
	winner := productWithID(1)
	finder := &fakeFinder{
		activeByExternal: map[string]*models.Product{"uuid-1": winner},
		byExternal:       map[string]*models.Product{"CODE": productWithID(2)},
		byInternal:       map[string]*models.Product{"CODE": productWithID(3)},
	}
	m := NewMatcher(finder)

	got, err := m.Resolve(context.Background(), "uuid-1", "CODE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(1), got.ID)
	assert.Equal(t, []string{"active_external:uuid-1"}, finder.calls)
}

func TestMatcherFallsBackToCodeInExternalColumn(t *testing.T) {
	// Legacy rows stored the code in the identifier column; that match must
	// beat the internal_code match.
	finder := &fakeFinder{
		activeByExternal: map[string]*models.Product{},
		byExternal:       map[string]*models.Product{"CODE": productWithID(2)},
		byInternal:       map[string]*models.Product{"CODE": productWithID(3)},
	}
	m := NewMatcher(finder)

	got, err := m.Resolve(context.Background(), "uuid-1", "CODE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2), got.ID)
}

func TestMatcherFallsBackToInternalCode(t *testing.T) {
	finder := &fakeFinder{
		activeByExternal: map[string]*models.Product{},
		byExternal:       map[string]*models.Product{},
		byInternal:       map[string]*models.Product{"CODE": productWithID(3)},
	}
	m := NewMatcher(finder)

	got, err := m.Resolve(context.Background(), "uuid-1", "CODE")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(3), got.ID)
	assert.Equal(t,
		[]string{"active_external:uuid-1", "external:CODE", "internal:CODE"},
		finder.calls)
}

func TestMatcherReturnsNilWhenNothingMatches(t *testing.T) {
	finder := &fakeFinder{
		activeByExternal: map[string]*models.Product{},
		byExternal:       map[string]*models.Product{},
		byInternal:       map[string]*models.Product{},
	}
	m := NewMatcher(finder)

	got, err := m.Resolve(context.Background(), "uuid-1", "CODE")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestMatcherSkipsEmptyInputs(t *testing.T) {
	finder := &fakeFinder{
		activeByExternal: map[string]*models.Product{},
		byExternal:       map[string]*models.Product{},
		byInternal:       map[string]*models.Product{},
	}
	m := NewMatcher(finder)

	got, err := m.Resolve(context.Background(), "", "")
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Empty(t, finder.calls)
}
