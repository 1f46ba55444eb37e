package models

import (
	"time"

	"github.com/google/uuid"
)

type Location struct {
	ID          uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FarmID      uuid.UUID  `gorm:"column:farm_id;type:uuid;not null"`
	PlaceName   string     `gorm:"column:place_name;not null"`
	RegionID    *uuid.UUID `gorm:"column:region_id;type:uuid"`
	CountryID   uuid.UUID  `gorm:"column:country_id;type:uuid;not null"`
	Description *string    `gorm:"column:description"`
	Deleted     bool       `gorm:"column:deleted;not null;default:false"`
	DeletedAt   *time.Time `gorm:"column:deleted_at"`
	CreatedAt   time.Time  `gorm:"column:created_at;autoCreateTime"`
}
