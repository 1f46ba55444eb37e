package cron

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/reapears/reapears-backend/internal/reaper"
	"github.com/reapears/reapears-backend/pkg/db/models"
	dbtypes "github.com/reapears/reapears-backend/pkg/db/types"
)

type imageReferenceReader interface {
	ReferencedImages(ctx context.Context) (map[reaper.Kind][]string, error)
}

// ImageReferenceRepository reads every stored path still referenced by a row.
// Archived farms keep their logo, so base tables are read instead of the
// active views.
type ImageReferenceRepository struct {
	db *gorm.DB
}

func NewImageReferenceRepository(db *gorm.DB) *ImageReferenceRepository {
	return &ImageReferenceRepository{db: db}
}

func (r *ImageReferenceRepository) ReferencedImages(ctx context.Context) (map[reaper.Kind][]string, error) {
	var harvestImages []dbtypes.ImagePaths
	if err := r.db.WithContext(ctx).
		Model(&models.Harvest{}).
		Where("images IS NOT NULL").
		Pluck("images", &harvestImages).Error; err != nil {
		return nil, fmt.Errorf("harvest images: %w", err)
	}

	var logos []string
	if err := r.db.WithContext(ctx).
		Model(&models.Farm{}).
		Where("logo IS NOT NULL").
		Pluck("logo", &logos).Error; err != nil {
		return nil, fmt.Errorf("farm logos: %w", err)
	}

	refs := map[reaper.Kind][]string{reaper.KindFarmLogo: logos}
	for _, paths := range harvestImages {
		refs[reaper.KindHarvest] = append(refs[reaper.KindHarvest], paths...)
	}
	return refs, nil
}
