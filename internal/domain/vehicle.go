package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// UnitStatus is the physical state of one vehicle (persisted as string).
type UnitStatus string

const (
	UnitAvailable   UnitStatus = "available"
	UnitOnRent      UnitStatus = "on_rent"
	UnitMaintenance UnitStatus = "maintenance"
	UnitDamage      UnitStatus = "damage"
)

// VehicleCategory is a rentable class backed by a pool of units. Daily rate is
// in cents. Available/total counts are derived by queries, never stored.
type VehicleCategory struct {
	CategoryID        uuid.UUID `gorm:"column:category_id;type:uuid;primaryKey" json:"category_id"`
	Code              string    `gorm:"column:code;not null;uniqueIndex" json:"code"`
	Name              string    `gorm:"column:name;not null" json:"name"`
	PricingTier       string    `gorm:"column:pricing_tier;type:varchar(20);not null;default:'standard'" json:"pricing_tier"`
	DailyRateCents    int64     `gorm:"column:daily_rate_cents;not null" json:"daily_rate_cents"`
	CleaningBufferHrs int       `gorm:"column:cleaning_buffer_hrs;not null;default:2" json:"cleaning_buffer_hrs"`
	CreatedAt         time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt         time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (VehicleCategory) TableName() string {
	return "VehicleCategories"
}

func (c *VehicleCategory) BeforeCreate(tx *gorm.DB) error {
	if c.CategoryID == uuid.Nil {
		c.CategoryID = uuid.New()
	}
	return nil
}

// VehicleUnit is one physical vehicle (VIN). status=on_rent implies exactly one
// booking whose window contains now holds current_booking_id.
type VehicleUnit struct {
	UnitID            uuid.UUID  `gorm:"column:unit_id;type:uuid;primaryKey" json:"unit_id"`
	VIN               string     `gorm:"column:vin;not null;uniqueIndex" json:"vin"`
	Plate             string     `gorm:"column:plate;not null" json:"plate"`
	CategoryID        uuid.UUID  `gorm:"column:category_id;type:uuid;not null;index" json:"category_id"`
	LocationID        uuid.UUID  `gorm:"column:location_id;type:uuid;not null;index" json:"location_id"`
	Status            UnitStatus `gorm:"column:status;type:varchar(16);not null;default:'available';index" json:"status"`
	CurrentBookingID  *uuid.UUID `gorm:"column:current_booking_id;type:uuid" json:"current_booking_id"`
	CleaningBufferHrs int        `gorm:"column:cleaning_buffer_hrs;not null;default:0" json:"cleaning_buffer_hrs"`
	OdometerKm        int        `gorm:"column:odometer_km;not null;default:0" json:"odometer_km"`
	CreatedAt         time.Time  `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt         time.Time  `gorm:"column:updatedAt" json:"updatedAt"`
}

func (VehicleUnit) TableName() string {
	return "VehicleUnits"
}

func (u *VehicleUnit) BeforeCreate(tx *gorm.DB) error {
	if u.UnitID == uuid.Nil {
		u.UnitID = uuid.New()
	}
	return nil
}

// BufferHours resolves the per-unit cleaning buffer, falling back to the
// category default when the unit has no override.
func (u *VehicleUnit) BufferHours(cat *VehicleCategory) int {
	if u.CleaningBufferHrs > 0 {
		return u.CleaningBufferHrs
	}
	if cat != nil {
		return cat.CleaningBufferHrs
	}
	return 0
}
