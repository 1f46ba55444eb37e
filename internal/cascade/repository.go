package cascade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reapears/reapears-backend/pkg/db/models"
)

// Repository reads the active views and applies set-based mutations. Every
// mutation is a single statement; callers bind it to a transaction with WithTx.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindActiveFarm(ctx context.Context, id uuid.UUID) (*models.Farm, error)
	FindActiveLocation(ctx context.Context, id uuid.UUID) (*models.Location, error)
	FindActiveHarvest(ctx context.Context, id uuid.UUID) (*models.Harvest, error)
	ListActiveLocations(ctx context.Context, farmID uuid.UUID) ([]models.Location, error)
	ListActiveHarvests(ctx context.Context, locationIDs []uuid.UUID) ([]models.Harvest, error)
	LockFarm(ctx context.Context, farmID uuid.UUID) error
	CountActiveLocations(ctx context.Context, farmID uuid.UUID) (int64, error)
	CountArchivedHarvests(ctx context.Context, locationIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	CountArchivedHarvestsForFarm(ctx context.Context, farmID uuid.UUID) (int64, error)
	CountOtherActiveFarms(ctx context.Context, ownerID, farmID uuid.UUID) (int64, error)

	ArchiveHarvests(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	DeleteHarvests(ctx context.Context, ids []uuid.UUID) (int64, error)
	ArchiveLocations(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error)
	DeleteLocations(ctx context.Context, ids []uuid.UUID) (int64, error)
	ArchiveFarm(ctx context.Context, id uuid.UUID, now time.Time) error
	DeleteFarm(ctx context.Context, id uuid.UUID) error
	ClearFarmerFlag(ctx context.Context, userID uuid.UUID) error
	ClearFarmLogo(ctx context.Context, farmID uuid.UUID) error
}

const (
	activeFarms     = "active_farms"
	activeLocations = "active_locations"
	activeHarvests  = "active_harvests"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds a cascade repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindActiveFarm(ctx context.Context, id uuid.UUID) (*models.Farm, error) {
	var farm models.Farm
	if err := r.db.WithContext(ctx).Table(activeFarms).Where("id = ?", id).Take(&farm).Error; err != nil {
		return nil, err
	}
	return &farm, nil
}

func (r *repository) FindActiveLocation(ctx context.Context, id uuid.UUID) (*models.Location, error) {
	var location models.Location
	if err := r.db.WithContext(ctx).Table(activeLocations).Where("id = ?", id).Take(&location).Error; err != nil {
		return nil, err
	}
	return &location, nil
}

func (r *repository) FindActiveHarvest(ctx context.Context, id uuid.UUID) (*models.Harvest, error) {
	var harvest models.Harvest
	if err := r.db.WithContext(ctx).Table(activeHarvests).Where("id = ?", id).Take(&harvest).Error; err != nil {
		return nil, err
	}
	return &harvest, nil
}

func (r *repository) ListActiveLocations(ctx context.Context, farmID uuid.UUID) ([]models.Location, error) {
	var locations []models.Location
	err := r.db.WithContext(ctx).
		Table(activeLocations).
		Where("farm_id = ?", farmID).
		Order("created_at ASC").
		Find(&locations).Error
	if err != nil {
		return nil, err
	}
	return locations, nil
}

func (r *repository) ListActiveHarvests(ctx context.Context, locationIDs []uuid.UUID) ([]models.Harvest, error) {
	if len(locationIDs) == 0 {
		return nil, nil
	}
	var harvests []models.Harvest
	err := r.db.WithContext(ctx).
		Table(activeHarvests).
		Where("location_id IN ?", locationIDs).
		Order("created_at ASC").
		Find(&harvests).Error
	if err != nil {
		return nil, err
	}
	return harvests, nil
}

// LockFarm takes a row lock on an active farm until the transaction ends.
// Concurrent deletes of sibling locations serialize on it.
func (r *repository) LockFarm(ctx context.Context, farmID uuid.UUID) error {
	var row struct{ ID uuid.UUID }
	return r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Table("farms").
		Select("id").
		Where("id = ? AND deleted = ?", farmID, false).
		Take(&row).Error
}

func (r *repository) CountActiveLocations(ctx context.Context, farmID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Table(activeLocations).Where("farm_id = ?", farmID).Count(&count).Error
	return count, err
}

// CountArchivedHarvests returns archived harvest counts keyed by location.
// Locations without archived harvests are absent from the map.
func (r *repository) CountArchivedHarvests(ctx context.Context, locationIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(locationIDs))
	if len(locationIDs) == 0 {
		return counts, nil
	}
	var rows []struct {
		LocationID uuid.UUID
		Count      int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Harvest{}).
		Select("location_id, COUNT(*) AS count").
		Where("location_id IN ? AND finished = ?", locationIDs, true).
		Group("location_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.LocationID] = row.Count
	}
	return counts, nil
}

// CountArchivedHarvestsForFarm counts archived harvests under every location
// of the farm, including locations archived by earlier cascades.
func (r *repository) CountArchivedHarvestsForFarm(ctx context.Context, farmID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Harvest{}).
		Joins("JOIN locations ON locations.id = harvests.location_id").
		Where("locations.farm_id = ? AND harvests.finished = ?", farmID, true).
		Count(&count).Error
	return count, err
}

func (r *repository) CountOtherActiveFarms(ctx context.Context, ownerID, farmID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Table(activeFarms).
		Where("owner_id = ? AND id <> ?", ownerID, farmID).
		Count(&count).Error
	return count, err
}

// ArchiveHarvests marks harvests finished and clears their images.
func (r *repository) ArchiveHarvests(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Harvest{}).
		Where("id IN ? AND finished = ?", ids, false).
		UpdateColumns(map[string]any{
			"finished":    true,
			"images":      nil,
			"finished_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteHarvests(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Harvest{})
	return res.RowsAffected, res.Error
}

func (r *repository) ArchiveLocations(ctx context.Context, ids []uuid.UUID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Location{}).
		Where("id IN ? AND deleted = ?", ids, false).
		UpdateColumns(map[string]any{
			"deleted":    true,
			"deleted_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) DeleteLocations(ctx context.Context, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).Where("id IN ?", ids).Delete(&models.Location{})
	return res.RowsAffected, res.Error
}

func (r *repository) ArchiveFarm(ctx context.Context, id uuid.UUID, now time.Time) error {
	return r.db.WithContext(ctx).
		Model(&models.Farm{}).
		Where("id = ? AND deleted = ?", id, false).
		UpdateColumns(map[string]any{
			"deleted":    true,
			"deleted_at": now,
		}).Error
}

func (r *repository) DeleteFarm(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Farm{}).Error
}

func (r *repository) ClearFarmerFlag(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("id = ?", userID).
		UpdateColumn("is_farmer", false).Error
}

func (r *repository) ClearFarmLogo(ctx context.Context, farmID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Farm{}).
		Where("id = ?", farmID).
		UpdateColumn("logo", nil).Error
}
