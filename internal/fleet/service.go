package fleet

import (
	"context"
	"time"

	"rentline-backend/internal/audit"
	"rentline-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultHoldTTL is how long a checkout hold occupies inventory.
const DefaultHoldTTL = 15 * time.Minute

// Service owns all VehicleUnit mutations. Units are never written outside
// this service; that is what keeps the no-double-booking invariant checkable.
type Service struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// blocking booking statuses: terminal bookings never occupy a unit.
var occupying = []domain.BookingStatus{domain.BookingPending, domain.BookingConfirmed, domain.BookingActive}

// AssignUnit picks one available unit in the booking's category and location
// whose padded window conflicts with no other booking or active hold, flips it
// to on_rent and links it: all inside a single transaction, so two callers
// racing for the last unit get exactly one winner.
func (s *Service) AssignUnit(ctx context.Context, bookingID uuid.UUID, actorID *uuid.UUID) (*domain.Booking, error) {
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
		if b.UnitID != nil {
			// Already assigned; idempotent.
			out = &b
			return nil
		}

		var cat domain.VehicleCategory
		if err := tx.Where("category_id = ?", b.CategoryID).First(&cat).Error; err != nil {
			return err
		}

		unit, err := s.pickUnit(tx, &b, &cat)
		if err != nil {
			return err
		}

		// Compare-and-swap on status guards against a concurrent allocation
		// that committed between our read and this write.
		res := tx.Model(&domain.VehicleUnit{}).
			Where("unit_id = ? AND status = ?", unit.UnitID, domain.UnitAvailable).
			Updates(map[string]interface{}{
				"status":             domain.UnitOnRent,
				"current_booking_id": b.BookingID,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.Conflictf("no units available for %s at this location and dates", cat.Name)
		}

		old := b
		b.UnitID = &unit.UnitID
		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
			Update("unit_id", unit.UnitID).Error; err != nil {
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

// pickUnit returns the first candidate with no padded-window conflict.
// Postgres takes FOR UPDATE row locks on the candidates; sqlite (tests)
// serializes writes on its own.
func (s *Service) pickUnit(tx *gorm.DB, b *domain.Booking, cat *domain.VehicleCategory) (*domain.VehicleUnit, error) {
	q := tx.Where("category_id = ? AND location_id = ? AND status = ?",
		b.CategoryID, b.LocationID, domain.UnitAvailable).
		Order("vin ASC")
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var units []domain.VehicleUnit
	if err := q.Find(&units).Error; err != nil {
		return nil, err
	}

	now := s.now()
	free := make([]*domain.VehicleUnit, 0, len(units))
	for i := range units {
		u := &units[i]
		ok, err := s.unitFree(tx, u, cat, b, now)
		if err != nil {
			return nil, err
		}
		if ok {
			free = append(free, u)
		}
	}

	// Category-level checkout holds (no unit pinned) claim units from the same
	// pool; leave one free unit per active foreign hold.
	catHolds, err := s.activeCategoryHolds(tx, b, now)
	if err != nil {
		return nil, err
	}
	if int64(len(free)) <= catHolds {
		return nil, domain.Conflictf("no units available for %s at this location and dates", cat.Name)
	}
	return free[0], nil
}

// unitFree checks the unit against other bookings and unit-pinned holds, with
// the unit's cleaning buffer padded onto both sides of the requested window.
func (s *Service) unitFree(tx *gorm.DB, u *domain.VehicleUnit, cat *domain.VehicleCategory, b *domain.Booking, now time.Time) (bool, error) {
	buffer := time.Duration(u.BufferHours(cat)) * time.Hour
	start := b.StartAt.Add(-buffer)
	end := b.EndAt.Add(buffer)

	var clash int64
	err := tx.Model(&domain.Booking{}).
		Where("unit_id = ? AND booking_id <> ? AND status IN ?", u.UnitID, b.BookingID, occupying).
		Where("start_at < ? AND end_at > ?", end, start).
		Count(&clash).Error
	if err != nil {
		return false, err
	}
	if clash > 0 {
		return false, nil
	}

	err = tx.Model(&domain.ReservationHold{}).
		Where("unit_id = ? AND expires_at > ? AND consumed_by_booking_id IS NULL", u.UnitID, now).
		Where("start_at < ? AND end_at > ?", end, start).
		Count(&clash).Error
	if err != nil {
		return false, err
	}
	return clash == 0, nil
}

func (s *Service) activeCategoryHolds(tx *gorm.DB, b *domain.Booking, now time.Time) (int64, error) {
	var n int64
	err := tx.Model(&domain.ReservationHold{}).
		Where("category_id = ? AND location_id = ? AND unit_id IS NULL", b.CategoryID, b.LocationID).
		Where("expires_at > ? AND consumed_by_booking_id IS NULL", now).
		Where("start_at < ? AND end_at > ?", b.EndAt, b.StartAt).
		Count(&n).Error
	return n, err
}

// ReleaseUnit unlinks the booking's unit and resets it. newStatus defaults to
// available; maintenance/damage are legal when the return surfaced issues.
func (s *Service) ReleaseUnit(ctx context.Context, bookingID uuid.UUID, newStatus domain.UnitStatus, actorID *uuid.UUID) (*domain.Booking, error) {
	if newStatus == "" {
		newStatus = domain.UnitAvailable
	}
	switch newStatus {
	case domain.UnitAvailable, domain.UnitMaintenance, domain.UnitDamage:
	default:
		return nil, domain.Validationf("invalid release status %q", newStatus)
	}

	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.UnitID == nil {
			out = &b
			return nil
		}

		if err := tx.Model(&domain.VehicleUnit{}).Where("unit_id = ?", *b.UnitID).
			Updates(map[string]interface{}{
				"status":             newStatus,
				"current_booking_id": nil,
			}).Error; err != nil {
			return err
		}

		old := b
		b.UnitID = nil
		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
			Update("unit_id", nil).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.StepCompletion{}).Where("booking_id = ?", b.BookingID).
			Update("unit_assigned", false).Error; err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "fleet.unit_released", EntityType: "booking", EntityID: b.BookingID,
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

// FindAvailable lists units free for the window. Active, unexpired holds count
// as occupied; expired holds are vacant without any cleanup pass.
func (s *Service) FindAvailable(ctx context.Context, categoryID, locationID uuid.UUID, start, end time.Time) ([]domain.VehicleUnit, error) {
	if !end.After(start) {
		return nil, domain.Validationf("window end must be after start")
	}
	db := s.DB.WithContext(ctx)

	var cat domain.VehicleCategory
	if err := db.Where("category_id = ?", categoryID).First(&cat).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &domain.NotFoundError{Entity: "category", ID: categoryID.String()}
		}
		return nil, err
	}

	var units []domain.VehicleUnit
	if err := db.Where("category_id = ? AND location_id = ? AND status = ?",
		categoryID, locationID, domain.UnitAvailable).
		Order("vin ASC").Find(&units).Error; err != nil {
		return nil, err
	}

	now := s.now()
	probe := &domain.Booking{BookingID: uuid.Nil, CategoryID: categoryID, LocationID: locationID, StartAt: start, EndAt: end}
	free := make([]domain.VehicleUnit, 0, len(units))
	for i := range units {
		ok, err := s.unitFree(db, &units[i], &cat, probe, now)
		if err != nil {
			return nil, err
		}
		if ok {
			free = append(free, units[i])
		}
	}

	catHolds, err := s.activeCategoryHolds(db, probe, now)
	if err != nil {
		return nil, err
	}
	if int64(len(free)) <= catHolds {
		return []domain.VehicleUnit{}, nil
	}
	return free[:int64(len(free))-catHolds], nil
}

// HoldCategory takes a checkout hold on the category pool. The hold row goes
// in first and the pool is recounted with it included; an oversold count rolls
// the insert back. Postgres additionally takes FOR UPDATE locks on the
// candidate units so concurrent holders serialize.
func (s *Service) HoldCategory(ctx context.Context, categoryID, locationID uuid.UUID, start, end time.Time, sessionKey string, ttl time.Duration) (*domain.ReservationHold, error) {
	if !end.After(start) {
		return nil, domain.Validationf("window end must be after start")
	}
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	var hold *domain.ReservationHold
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cat domain.VehicleCategory
		if err := tx.Where("category_id = ?", categoryID).First(&cat).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "category", ID: categoryID.String()}
			}
			return err
		}

		q := tx.Where("category_id = ? AND location_id = ? AND status = ?",
			categoryID, locationID, domain.UnitAvailable)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var units []domain.VehicleUnit
		if err := q.Find(&units).Error; err != nil {
			return err
		}

		now := s.now()
		hold = &domain.ReservationHold{
			CategoryID: categoryID,
			LocationID: locationID,
			StartAt:    start,
			EndAt:      end,
			SessionKey: sessionKey,
			ExpiresAt:  now.Add(ttl),
		}
		if err := tx.Create(hold).Error; err != nil {
			return err
		}

		// Recount with the new hold included. A concurrent hold that committed
		// between the unit read and this insert shows up here and rolls us back.
		probe := &domain.Booking{BookingID: uuid.Nil, CategoryID: categoryID, LocationID: locationID, StartAt: start, EndAt: end}
		nFree := 0
		for i := range units {
			ok, err := s.unitFree(tx, &units[i], &cat, probe, now)
			if err != nil {
				return err
			}
			if ok {
				nFree++
			}
		}
		catHolds, err := s.activeCategoryHolds(tx, probe, now)
		if err != nil {
			return err
		}
		if int64(nFree) < catHolds {
			return domain.Conflictf("no units available for this category and dates")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("hold_id", hold.HoldID.String()).Time("expires_at", hold.ExpiresAt).Msg("checkout hold created")
	return hold, nil
}

// HoldUnit pins a checkout hold to one unit (customer picked a specific car).
// The pinned unit blocks assignment for the window until the hold lapses.
func (s *Service) HoldUnit(ctx context.Context, unitID uuid.UUID, start, end time.Time, sessionKey string, ttl time.Duration) (*domain.ReservationHold, error) {
	if !end.After(start) {
		return nil, domain.Validationf("window end must be after start")
	}
	if ttl <= 0 {
		ttl = DefaultHoldTTL
	}
	var hold *domain.ReservationHold
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("unit_id = ?", unitID)
		if tx.Dialector.Name() == "postgres" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var unit domain.VehicleUnit
		if err := q.First(&unit).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "unit", ID: unitID.String()}
			}
			return err
		}
		if unit.Status != domain.UnitAvailable {
			return domain.Conflictf("unit %s is %s", unit.VIN, unit.Status)
		}
		var cat domain.VehicleCategory
		if err := tx.Where("category_id = ?", unit.CategoryID).First(&cat).Error; err != nil {
			return err
		}
		now := s.now()
		probe := &domain.Booking{BookingID: uuid.Nil, CategoryID: unit.CategoryID, LocationID: unit.LocationID, StartAt: start, EndAt: end}
		free, err := s.unitFree(tx, &unit, &cat, probe, now)
		if err != nil {
			return err
		}
		if !free {
			return domain.Conflictf("unit %s is not free for these dates", unit.VIN)
		}
		hold = &domain.ReservationHold{
			CategoryID: unit.CategoryID,
			UnitID:     &unit.UnitID,
			LocationID: unit.LocationID,
			StartAt:    start,
			EndAt:      end,
			SessionKey: sessionKey,
			ExpiresAt:  now.Add(ttl),
		}
		if err := tx.Create(hold).Error; err != nil {
			return err
		}
		// Two pins racing for the same unit both land here; the later commit
		// counts both and rolls back.
		var pinned int64
		if err := tx.Model(&domain.ReservationHold{}).
			Where("unit_id = ? AND expires_at > ? AND consumed_by_booking_id IS NULL", unit.UnitID, now).
			Where("start_at < ? AND end_at > ?", end, start).
			Count(&pinned).Error; err != nil {
			return err
		}
		if pinned > 1 {
			return domain.Conflictf("unit %s is not free for these dates", unit.VIN)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("hold_id", hold.HoldID.String()).Str("unit_id", unitID.String()).Msg("unit-pinned checkout hold created")
	return hold, nil
}

// ReleaseHold drops a checkout hold early (abandoned checkout just expires).
func (s *Service) ReleaseHold(ctx context.Context, holdID uuid.UUID) error {
	res := s.DB.WithContext(ctx).Model(&domain.ReservationHold{}).
		Where("hold_id = ? AND consumed_by_booking_id IS NULL", holdID).
		Update("expires_at", s.now())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return &domain.NotFoundError{Entity: "reservation hold", ID: holdID.String()}
	}
	return nil
}

// ConsumeHold marks a hold as spent by a booking, in the caller's transaction.
func ConsumeHold(tx *gorm.DB, holdID, bookingID uuid.UUID, now time.Time) error {
	res := tx.Model(&domain.ReservationHold{}).
		Where("hold_id = ? AND expires_at > ? AND consumed_by_booking_id IS NULL", holdID, now).
		Update("consumed_by_booking_id", bookingID)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Conflictf("checkout hold expired or already used; restart checkout")
	}
	return nil
}
