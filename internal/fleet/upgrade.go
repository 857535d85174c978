package fleet

import (
	"context"

	"rentline-backend/internal/audit"
	"rentline-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AssignSpecificUnit links an operator-chosen unit instead of pool selection.
// The unit must match the booking's category and location and pass the same
// padded-window conflict check as pool assignment.
func (s *Service) AssignSpecificUnit(ctx context.Context, bookingID, unitID uuid.UUID, actorID *uuid.UUID) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.Status.Terminal() {
			return domain.Conflictf("booking %s is %s and cannot be assigned a unit", b.Code, b.Status)
		}

		var u domain.VehicleUnit
		if err := tx.Where("unit_id = ?", unitID).First(&u).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "unit", ID: unitID.String()}
			}
			return err
		}
		if u.LocationID != b.LocationID {
			return domain.Conflictf("unit %s belongs to another location", u.VIN)
		}
		if u.CategoryID != b.CategoryID {
			return domain.Conflictf("unit %s is not in the booking's category", u.VIN)
		}
		if u.Status != domain.UnitAvailable {
			return domain.Conflictf("unit %s is %s", u.VIN, u.Status)
		}

		var cat domain.VehicleCategory
		if err := tx.Where("category_id = ?", b.CategoryID).First(&cat).Error; err != nil {
			return err
		}
		free, err := s.unitFree(tx, &u, &cat, &b, s.now())
		if err != nil {
			return err
		}
		if !free {
			return domain.Conflictf("unit %s is already booked for these dates", u.VIN)
		}

		res := tx.Model(&domain.VehicleUnit{}).
			Where("unit_id = ? AND status = ?", u.UnitID, domain.UnitAvailable).
			Updates(map[string]interface{}{
				"status":             domain.UnitOnRent,
				"current_booking_id": b.BookingID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Conflictf("unit %s was taken by a concurrent booking", u.VIN)
		}

		old := b
		b.UnitID = &u.UnitID
		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
			Update("unit_id", u.UnitID).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.StepCompletion{}).Where("booking_id = ?", b.BookingID).
			Update("unit_assigned", true).Error; err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "fleet.unit_assigned", EntityType: "booking", EntityID: b.BookingID,
			ActorID: actorID, OldData: old, NewData: b,
		}); err != nil {
			return err
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ChangeCategory repools the booking. The current unit is released when it no
// longer matches; the price is NOT recomputed here. Any delta goes through the
// upgrade fee: newTotal = oldTotal + perDayFee * totalDays. perDayFee defaults
// to the rate delta clamped at zero and is operator-overridable, zero included.
func (s *Service) ChangeCategory(ctx context.Context, bookingID, newCategoryID uuid.UUID, overridePerDayFee *int64, actorID *uuid.UUID) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.Status.Terminal() {
			return domain.Conflictf("booking %s is %s and cannot change category", b.Code, b.Status)
		}
		if b.CategoryID == newCategoryID {
			out = &b
			return nil
		}

		var oldCat, newCat domain.VehicleCategory
		if err := tx.Where("category_id = ?", b.CategoryID).First(&oldCat).Error; err != nil {
			return err
		}
		if err := tx.Where("category_id = ?", newCategoryID).First(&newCat).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "category", ID: newCategoryID.String()}
			}
			return err
		}

		perDay := newCat.DailyRateCents - oldCat.DailyRateCents
		if perDay < 0 {
			perDay = 0
		}
		if overridePerDayFee != nil {
			if *overridePerDayFee < 0 {
				return domain.Validationf("upgrade fee must not be negative")
			}
			perDay = *overridePerDayFee
		}

		old := b
		updates := map[string]interface{}{
			"category_id":          newCategoryID,
			"upgrade_fee_cents_pd": perDay,
			"pre_upgrade_cents":    b.TotalCents,
			"total_cents":          b.TotalCents + perDay*int64(b.TotalDays()),
		}

		// A unit from the old category no longer qualifies.
		if b.UnitID != nil {
			if err := tx.Model(&domain.VehicleUnit{}).Where("unit_id = ?", *b.UnitID).
				Updates(map[string]interface{}{"status": domain.UnitAvailable, "current_booking_id": nil}).Error; err != nil {
				return err
			}
			updates["unit_id"] = nil
			if err := tx.Model(&domain.StepCompletion{}).Where("booking_id = ?", b.BookingID).
				Update("unit_assigned", false).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("booking_id = ?", b.BookingID).First(&b).Error; err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "fleet.category_changed", EntityType: "booking", EntityID: b.BookingID,
			ActorID: actorID, OldData: old, NewData: b,
		}); err != nil {
			return err
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveUpgrade undoes a category upgrade fee and restores the pre-upgrade
// total exactly (round-trip guarantee).
func (s *Service) RemoveUpgrade(ctx context.Context, bookingID uuid.UUID, actorID *uuid.UUID) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.UpgradeFeeCentsPD == 0 && b.PreUpgradeCents == 0 {
			out = &b
			return nil
		}

		old := b
		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
			Updates(map[string]interface{}{
				"upgrade_fee_cents_pd": 0,
				"total_cents":          b.PreUpgradeCents,
				"pre_upgrade_cents":    0,
			}).Error; err != nil {
			return err
		}
		if err := tx.Where("booking_id = ?", b.BookingID).First(&b).Error; err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "fleet.upgrade_removed", EntityType: "booking", EntityID: b.BookingID,
			ActorID: actorID, OldData: old, NewData: b,
		}); err != nil {
			return err
		}
		out = &b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
