package models

import (
	"time"

	"github.com/google/uuid"
)

// Farm is the top-level listing owner. Archived farms have Deleted set and
// drop out of the active_farms view.
type Farm struct {
	ID           uuid.UUID  `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	OwnerID      uuid.UUID  `gorm:"column:owner_id;type:uuid;not null"`
	Name         string     `gorm:"column:name;not null"`
	Logo         *string    `gorm:"column:logo"`
	RegisteredOn time.Time  `gorm:"column:registered_on;type:date;not null"`
	Deleted      bool       `gorm:"column:deleted;not null;default:false"`
	DeletedAt    *time.Time `gorm:"column:deleted_at"`
}
