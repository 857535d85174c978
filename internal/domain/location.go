package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Location is a rental branch. Units and bookings are scoped to one location;
// assigning a unit across locations is a conflict, not a transfer.
type Location struct {
	LocationID uuid.UUID `gorm:"column:location_id;type:uuid;primaryKey" json:"location_id"`
	Code       string    `gorm:"column:code;not null;uniqueIndex" json:"code"`
	Name       string    `gorm:"column:name;not null" json:"name"`
	City       string    `gorm:"column:city;not null" json:"city"`
	Timezone   string    `gorm:"column:timezone;not null;default:'America/Vancouver'" json:"timezone"`
	CreatedAt  time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt  time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (Location) TableName() string {
	return "Locations"
}

func (l *Location) BeforeCreate(tx *gorm.DB) error {
	if l.LocationID == uuid.Nil {
		l.LocationID = uuid.New()
	}
	return nil
}
