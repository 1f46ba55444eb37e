package models

import (
	"time"

	"github.com/google/uuid"
)

// User is the marketplace account. IsFarmer is set while the user owns at
// least one active farm.
type User struct {
	ID        uuid.UUID `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	FirstName string    `gorm:"column:first_name;not null"`
	LastName  *string   `gorm:"column:last_name"`
	Email     string    `gorm:"type:text;not null;uniqueIndex"`
	IsFarmer  bool      `gorm:"column:is_farmer;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
