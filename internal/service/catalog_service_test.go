package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

type countingCatalog struct {
	fakeCatalog
	subjectLookups int
}

func (c *countingCatalog) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	c.subjectLookups++
	return c.fakeCatalog.FindByID(ctx, id)
}

func TestCatalogServiceCachesSubjectsOnly(t *testing.T) {
	repo := &countingCatalog{fakeCatalog: fakeCatalog{
		subjects:  map[string]*models.Subject{"math": {ID: "math", Code: "MATH101", Units: 3}},
		offerings: map[string]*models.Offering{"off-math": offeringFor("off-math", "math", slot(models.Monday, "08:00", "09:00"))},
	}}
	cacheRepo := newFakeCacheRepo()
	svc := NewCatalogService(repo, NewCacheService(cacheRepo, nil, time.Minute, nil, true), time.Hour)

	for i := 0; i < 3; i++ {
		subject, err := svc.FindSubject(context.Background(), "math")
		require.NoError(t, err)
		assert.Equal(t, "MATH101", subject.Code)
	}
	assert.Equal(t, 1, repo.subjectLookups)
	assert.True(t, cacheRepo.has(subjectCacheKey("math")))

	offering, err := svc.FindOffering(context.Background(), "math", "off-math")
	require.NoError(t, err)
	assert.Equal(t, "off-math", offering.ID)
	assert.False(t, cacheRepo.has("catalog:offering:off-math"))

	_, err = svc.FindSubject(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

func TestCacheServiceDisabledIsNoop(t *testing.T) {
	cacheRepo := newFakeCacheRepo()
	svc := NewCacheService(cacheRepo, nil, 0, nil, false)

	svc.Set(context.Background(), "k", &models.Subject{ID: "x"}, 0)
	var dest models.Subject
	assert.False(t, svc.Get(context.Background(), "k", &dest))
	assert.False(t, cacheRepo.has("k"))

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	nilSvc.Invalidate(context.Background(), "k")
}
