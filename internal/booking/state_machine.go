package booking

import (
	"time"

	"rentline-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// allowTransition is the booking-status allow-list. Terminal states have no
// outgoing edges.
var allowTransition = map[domain.BookingStatus][]domain.BookingStatus{
	domain.BookingPending:   {domain.BookingConfirmed, domain.BookingCancelled},
	domain.BookingConfirmed: {domain.BookingActive, domain.BookingCancelled},
	domain.BookingActive:    {domain.BookingCompleted},
	domain.BookingCompleted: {},
	domain.BookingCancelled: {},
}

// CanTransition reports whether from -> to is an allowed status edge.
func CanTransition(from, to domain.BookingStatus) bool {
	for _, s := range allowTransition[from] {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyStatus moves a booking from -> to with a conditional update: the write
// lands only if the persisted status still equals from, so concurrent
// conflicting transitions get exactly one winner. Stamps the matching
// timestamp column. Runs on the caller's tx.
func ApplyStatus(tx *gorm.DB, bookingID uuid.UUID, from, to domain.BookingStatus, now time.Time) (*domain.Booking, error) {
	if !CanTransition(from, to) {
		return nil, &domain.InvalidTransitionError{Entity: "booking", From: string(from), To: string(to)}
	}

	updates := map[string]interface{}{"status": to}
	switch to {
	case domain.BookingConfirmed:
		updates["confirmed_at"] = now
	case domain.BookingActive:
		updates["activated_at"] = now
	case domain.BookingCompleted:
		updates["completed_at"] = now
	case domain.BookingCancelled:
		updates["cancelled_at"] = now
	}

	res := tx.Model(&domain.Booking{}).
		Where("booking_id = ? AND status = ?", bookingID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Lost the race or caller read a stale status.
		var current domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&current).Error; err != nil {
			return nil, err
		}
		return nil, &domain.InvalidTransitionError{Entity: "booking", From: string(current.Status), To: string(to)}
	}

	var b domain.Booking
	if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
		return nil, err
	}
	return &b, nil
}
