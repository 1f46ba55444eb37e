package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	dbtypes "github.com/reapears/reapears-backend/pkg/db/types"
)

// MaxHarvestImages caps the image slots of a single harvest.
const MaxHarvestImages = 5

// Harvest is a produce listing at a location. Archived harvests keep the row
// with Finished set and Images cleared.
type Harvest struct {
	ID          uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	LocationID  uuid.UUID          `gorm:"column:location_id;type:uuid;not null"`
	CultivarID  uuid.UUID          `gorm:"column:cultivar_id;type:uuid;not null"`
	Price       decimal.Decimal    `gorm:"column:price;type:numeric(12,2);not null"`
	Type        *string            `gorm:"column:type"`
	Description *string            `gorm:"column:description"`
	Images      dbtypes.ImagePaths `gorm:"column:images;type:text[]"`
	AvailableAt time.Time          `gorm:"column:available_at;type:date;not null"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   *time.Time         `gorm:"column:updated_at"`
	Finished    bool               `gorm:"column:finished;not null;default:false"`
	FinishedAt  *time.Time         `gorm:"column:finished_at"`
}
