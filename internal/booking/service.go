package booking

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rentline-backend/internal/audit"
	"rentline-backend/internal/domain"
	"rentline-backend/internal/fleet"
	"rentline-backend/internal/pricing"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// DepositReleaser is what Cancel needs from the deposit orchestrator.
type DepositReleaser interface {
	ReleaseHold(ctx context.Context, bookingID uuid.UUID, reason string, bypassStatusCheck bool) (released bool, alreadyReleased bool, err error)
}

// Notifier is the fire-and-forget dispatch contract; failures never roll back.
type Notifier interface {
	BookingEvent(ctx context.Context, event string, b *domain.Booking)
}

// Service drives the booking lifecycle. It consumes the pricing engine and the
// fleet allocation service; bookings are mutated nowhere else.
type Service struct {
	DB       *gorm.DB
	Fleet    *fleet.Service
	Rates    pricing.Rates
	Deposits DepositReleaser
	Notify   Notifier
	Now      func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) rates() pricing.Rates {
	if s.Rates == (pricing.Rates{}) {
		return pricing.DefaultRates
	}
	return s.Rates
}

// QuoteRequest prices a prospective rental without touching inventory.
type QuoteRequest struct {
	CategoryID            uuid.UUID
	StartAt               time.Time
	EndAt                 time.Time
	DriverAgeBand         string
	ProtectionCentsPerDay int64
	AddOnsCents           int64
}

func windowDays(start, end time.Time) (int, error) {
	if !end.After(start) {
		return 0, domain.Validationf("rental end must be after start")
	}
	d := end.Sub(start)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) != 0 {
		days++
	}
	return days, nil
}

// Quote computes an unlocked price breakdown for the request.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*pricing.Breakdown, pricing.QuoteInput, error) {
	days, err := windowDays(req.StartAt, req.EndAt)
	if err != nil {
		return nil, pricing.QuoteInput{}, err
	}
	var cat domain.VehicleCategory
	if err := s.DB.WithContext(ctx).Where("category_id = ?", req.CategoryID).First(&cat).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, pricing.QuoteInput{}, &domain.NotFoundError{Entity: "category", ID: req.CategoryID.String()}
		}
		return nil, pricing.QuoteInput{}, err
	}
	in := pricing.QuoteInput{
		DailyRateCents:        cat.DailyRateCents,
		TotalDays:             days,
		PickupDate:            req.StartAt.UTC().Truncate(24 * time.Hour),
		DriverAgeBand:         req.DriverAgeBand,
		ProtectionCentsPerDay: req.ProtectionCentsPerDay,
		AddOnsCents:           req.AddOnsCents,
	}
	bd, err := pricing.Compute(in, s.rates())
	if err != nil {
		return nil, pricing.QuoteInput{}, err
	}
	return bd, in, nil
}

// CheckoutInput creates the pending booking. HoldID is the checkout hold taken
// earlier in the flow; it is consumed atomically with booking creation.
type CheckoutInput struct {
	HoldID        uuid.UUID
	CustomerName  string
	CustomerEmail string
	CustomerPhone string
	DeliveryMode  bool
	QuoteRequest
	ActorID *uuid.UUID
}

// Checkout creates a pending booking from a held window, with an unlocked
// quote total and a fresh step-completion row.
func (s *Service) Checkout(ctx context.Context, in CheckoutInput) (*domain.Booking, error) {
	if strings.TrimSpace(in.CustomerName) == "" || strings.TrimSpace(in.CustomerEmail) == "" {
		return nil, domain.Validationf("customer name and email are required")
	}
	bd, _, err := s.Quote(ctx, in.QuoteRequest)
	if err != nil {
		return nil, err
	}

	var out *domain.Booking
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var hold domain.ReservationHold
		if err := tx.Where("hold_id = ?", in.HoldID).First(&hold).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "reservation hold", ID: in.HoldID.String()}
			}
			return err
		}
		if hold.CategoryID != in.CategoryID || !hold.StartAt.Equal(in.StartAt) || !hold.EndAt.Equal(in.EndAt) {
			return domain.Conflictf("checkout hold does not match the requested category and dates")
		}

		b := domain.Booking{
			Code:          newCode(s.now()),
			CustomerName:  strings.TrimSpace(in.CustomerName),
			CustomerEmail: strings.TrimSpace(in.CustomerEmail),
			CustomerPhone: strings.TrimSpace(in.CustomerPhone),
			LocationID:    hold.LocationID,
			CategoryID:    hold.CategoryID,
			StartAt:       in.StartAt.UTC(),
			EndAt:         in.EndAt.UTC(),
			Status:        domain.BookingPending,
			ReturnState:   domain.ReturnNotStarted,
			DeliveryMode:  in.DeliveryMode,
			TotalCents:    bd.TotalCents,
		}
		if in.DeliveryMode {
			b.DeliveryProgress = domain.DeliveryScheduled
		} else {
			b.DeliveryProgress = domain.DeliveryNone
		}
		if err := tx.Create(&b).Error; err != nil {
			return err
		}
		if err := fleet.ConsumeHold(tx, hold.HoldID, b.BookingID, s.now()); err != nil {
			return err
		}
		if err := tx.Create(&domain.StepCompletion{BookingID: b.BookingID}).Error; err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "booking.created", EntityType: "booking", EntityID: b.BookingID,
			ActorID: in.ActorID, NewData: b,
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

// LockPricing recomputes the quote for the booking's current parameters and
// freezes it as an immutable snapshot. An existing locked snapshot is left
// untouched; the booking simply points at the new row.
func (s *Service) LockPricing(ctx context.Context, bookingID uuid.UUID, req QuoteRequest, actorID *uuid.UUID) (*domain.PricingSnapshot, error) {
	var snap *domain.PricingSnapshot
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.Status.Terminal() {
			return domain.Conflictf("booking %s is %s; pricing can no longer be locked", b.Code, b.Status)
		}
		req.CategoryID = b.CategoryID
		req.StartAt = b.StartAt
		req.EndAt = b.EndAt

		bd, in, err := (&Service{DB: tx, Rates: s.Rates, Now: s.Now}).Quote(ctx, req)
		if err != nil {
			return err
		}
		in.UpgradeFeeCentsPerDay = b.UpgradeFeeCentsPD
		if b.UpgradeFeeCentsPD > 0 {
			bd, err = pricing.Compute(in, s.rates())
			if err != nil {
				return err
			}
		}

		snap = pricing.Snapshot(b.BookingID, in, bd, s.now())
		if err := tx.Create(snap).Error; err != nil {
			return err
		}
		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
			Updates(map[string]interface{}{
				"pricing_snapshot_id": snap.SnapshotID,
				"total_cents":         snap.TotalCents,
			}).Error; err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			Action: "booking.pricing_locked", EntityType: "booking", EntityID: b.BookingID,
			ActorID: actorID, NewData: snap,
		})
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Confirm moves pending -> confirmed. Requires a locked pricing snapshot.
func (s *Service) Confirm(ctx context.Context, bookingID uuid.UUID, actorID *uuid.UUID) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.Status == domain.BookingConfirmed {
			out = &b
			return nil
		}
		if b.PricingSnapshotID == nil {
			return domain.Conflictf("booking %s has no locked pricing; lock pricing before confirming", b.Code)
		}
		updated, err := ApplyStatus(tx, b.BookingID, b.Status, domain.BookingConfirmed, s.now())
		if err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "booking.confirmed", EntityType: "booking", EntityID: b.BookingID,
			ActorID: actorID, OldData: b, NewData: updated,
		}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.dispatch(ctx, "booking.confirmed", out)
	return out, nil
}

// EditInput carries the mutable booking fields. Nil means unchanged.
type EditInput struct {
	StartAt    *time.Time
	EndAt      *time.Time
	LocationID *uuid.UUID
	ActorID    *uuid.UUID
}

// Edit updates dates/location. Any of these edits invalidates a locked pricing
// snapshot (pointer cleared, snapshot row preserved for audit); a location
// change explicitly releases the assigned unit, since units are
// location-scoped.
func (s *Service) Edit(ctx context.Context, bookingID uuid.UUID, in EditInput) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.Status == domain.BookingActive || b.Status.Terminal() {
			return domain.Conflictf("booking %s is %s and can no longer be edited", b.Code, b.Status)
		}

		start, end := b.StartAt, b.EndAt
		if in.StartAt != nil {
			start = in.StartAt.UTC()
		}
		if in.EndAt != nil {
			end = in.EndAt.UTC()
		}
		if _, err := windowDays(start, end); err != nil {
			return err
		}

		old := b
		updates := map[string]interface{}{
			"start_at":            start,
			"end_at":              end,
			"pricing_snapshot_id": nil,
		}

		if in.LocationID != nil && *in.LocationID != b.LocationID {
			var loc domain.Location
			if err := tx.Where("location_id = ?", *in.LocationID).First(&loc).Error; err != nil {
				if err == gorm.ErrRecordNotFound {
					return &domain.NotFoundError{Entity: "location", ID: in.LocationID.String()}
				}
				return err
			}
			updates["location_id"] = *in.LocationID
			// Units are location-scoped: release before repooling.
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
		}

		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("booking_id = ?", b.BookingID).First(&b).Error; err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "booking.edited", EntityType: "booking", EntityID: b.BookingID,
			ActorID: in.ActorID, OldData: old, NewData: b,
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

// Cancel ends a pending or confirmed booking: unit released, deposit released
// when one was authorized. Cancelling again is a no-op returning the booking.
func (s *Service) Cancel(ctx context.Context, bookingID uuid.UUID, reason string, actorID *uuid.UUID) (*domain.Booking, error) {
	var out *domain.Booking
	var replay bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		if b.Status == domain.BookingCancelled {
			out = &b
			replay = true
			return nil
		}

		old := b
		updated, err := ApplyStatus(tx, b.BookingID, b.Status, domain.BookingCancelled, s.now())
		if err != nil {
			return err
		}
		if updated.UnitID != nil {
			if err := tx.Model(&domain.VehicleUnit{}).Where("unit_id = ?", *updated.UnitID).
				Updates(map[string]interface{}{"status": domain.UnitAvailable, "current_booking_id": nil}).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
				Update("unit_id", nil).Error; err != nil {
				return err
			}
			updated.UnitID = nil
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "booking.cancelled", EntityType: "booking", EntityID: b.BookingID,
			ActorID: actorID, OldData: old, NewData: updated,
		}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Deposit release is a separate external call; a confirmed authorization
	// needs an explicit release, an unconfirmed one just lapses. Replayed
	// cancels skip it; the orchestrator reconciles any stragglers.
	if !replay && s.Deposits != nil && out.DepositStatus == domain.DepositStatus(domain.HoldAuthorized) {
		if _, _, err := s.Deposits.ReleaseHold(ctx, bookingID, "booking cancelled: "+reason, true); err != nil {
			log.Error().Err(err).Str("booking", out.Code).Msg("deposit release after cancel failed; will reconcile on poll")
		}
	}
	return out, nil
}

// Get loads one booking.
func (s *Service) Get(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	var b domain.Booking
	if err := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
		}
		return nil, err
	}
	return &b, nil
}

func (s *Service) dispatch(ctx context.Context, event string, b *domain.Booking) {
	if s.Notify == nil || b == nil {
		return
	}
	s.Notify.BookingEvent(ctx, event, b)
}

func newCode(now time.Time) string {
	suffix := strings.ToUpper(uuid.NewString()[:4])
	return fmt.Sprintf("BK-%s-%s", now.Format("20060102"), suffix)
}
