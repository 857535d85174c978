package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ReservationHold is a short-lived soft lock taken during checkout, before the
// booking is confirmed. An active hold counts against availability; expiry is
// enforced at read time (queries ignore expired rows), so an abandoned checkout
// never needs a reaper to free inventory.
type ReservationHold struct {
	HoldID     uuid.UUID  `gorm:"column:hold_id;type:uuid;primaryKey" json:"hold_id"`
	CategoryID uuid.UUID  `gorm:"column:category_id;type:uuid;not null;index" json:"category_id"`
	UnitID     *uuid.UUID `gorm:"column:unit_id;type:uuid;index" json:"unit_id"`
	LocationID uuid.UUID  `gorm:"column:location_id;type:uuid;not null;index" json:"location_id"`

	StartAt time.Time `gorm:"column:start_at;not null" json:"start_at"`
	EndAt   time.Time `gorm:"column:end_at;not null" json:"end_at"`

	SessionKey string    `gorm:"column:session_key;not null;index" json:"session_key"`
	ExpiresAt  time.Time `gorm:"column:expires_at;not null;index" json:"expires_at"`

	// Set when a booking consumed the hold; consumed holds no longer count.
	ConsumedByBookingID *uuid.UUID `gorm:"column:consumed_by_booking_id;type:uuid" json:"consumed_by_booking_id"`

	CreatedAt time.Time `gorm:"column:createdAt" json:"createdAt"`
	UpdatedAt time.Time `gorm:"column:updatedAt" json:"updatedAt"`
}

func (ReservationHold) TableName() string {
	return "ReservationHolds"
}

func (h *ReservationHold) BeforeCreate(tx *gorm.DB) error {
	if h.HoldID == uuid.Nil {
		h.HoldID = uuid.New()
	}
	return nil
}

// Active reports whether the hold still occupies inventory at now.
func (h *ReservationHold) Active(now time.Time) bool {
	return h.ConsumedByBookingID == nil && h.ExpiresAt.After(now)
}
