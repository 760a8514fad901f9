package service

import (
	"context"
	"time"

	"github.com/noah-isme/enrollment-billing-api/internal/models"
)

type subjectRepository interface {
	FindByID(ctx context.Context, id string) (*models.Subject, error)
	FindOffering(ctx context.Context, subjectID, offeringID string) (*models.Offering, error)
}

// CatalogService reads subjects and offerings owned by the curriculum service. Subjects
// are cached; offerings are always read live because their occupancy changes.
type CatalogService struct {
	repo  subjectRepository
	cache *CacheService
	ttl   time.Duration
}

// NewCatalogService constructs the catalog reader.
func NewCatalogService(repo subjectRepository, cache *CacheService, ttl time.Duration) *CatalogService {
	return &CatalogService{repo: repo, cache: cache, ttl: ttl}
}

// FindSubject returns a subject with its prerequisites. Repository errors are returned as-is.
func (s *CatalogService) FindSubject(ctx context.Context, id string) (*models.Subject, error) {
	key := subjectCacheKey(id)
	var cached models.Subject
	if s.cache.Get(ctx, key, &cached) {
		return &cached, nil
	}
	subject, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.cache.Fill(ctx, key, subject, s.ttl)
	return subject, nil
}

// FindOffering returns an offering of the subject with its schedule.
func (s *CatalogService) FindOffering(ctx context.Context, subjectID, offeringID string) (*models.Offering, error) {
	return s.repo.FindOffering(ctx, subjectID, offeringID)
}
