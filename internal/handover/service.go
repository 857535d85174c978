package handover

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"rentline-backend/internal/audit"
	"rentline-backend/internal/booking"
	"rentline-backend/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MinBackupReasonLen is the shortest accepted backup-activation reason.
const MinBackupReasonLen = 10

// MinHandoverPhotos is required for normal activation.
const MinHandoverPhotos = 4

// Step inputs are typed per step; there is no generic string-keyed step write.

// IdentityCheck marks the identity step done.
type IdentityCheck struct {
	DocType string // "drivers_licence", "passport", ...
}

// AgreementSignature marks the rental agreement signed.
type AgreementSignature struct {
	SignatureRef string
}

// Inspection marks the pre-handover inspection done.
type Inspection struct {
	Checklist map[string]bool
}

// Photos appends handover photo evidence.
type Photos struct {
	Refs []string
}

// Service records handover checklist steps and gates activation on them.
type Service struct {
	DB     *gorm.DB
	Notify booking.Notifier
	Now    func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) steps(tx *gorm.DB, bookingID uuid.UUID) (*domain.StepCompletion, error) {
	var sc domain.StepCompletion
	if err := tx.Where("booking_id = ?", bookingID).First(&sc).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &domain.NotFoundError{Entity: "step completion", ID: bookingID.String()}
		}
		return nil, err
	}
	return &sc, nil
}

func (s *Service) record(ctx context.Context, bookingID uuid.UUID, actorID *uuid.UUID, action string, apply func(*domain.StepCompletion) map[string]interface{}) (*domain.StepCompletion, error) {
	var out *domain.StepCompletion
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sc, err := s.steps(tx, bookingID)
		if err != nil {
			return err
		}
		old := *sc
		updates := apply(sc)
		if updates == nil {
			// Step already satisfied; idempotent.
			out = sc
			return nil
		}
		if err := tx.Model(&domain.StepCompletion{}).Where("booking_id = ?", bookingID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("booking_id = ?", bookingID).First(sc).Error; err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: action, EntityType: "booking", EntityID: bookingID,
			ActorID: actorID, OldData: old, NewData: sc,
		}); err != nil {
			return err
		}
		out = sc
		return nil
	})
	return out, err
}

// RecordIdentity completes the identity-check step.
func (s *Service) RecordIdentity(ctx context.Context, bookingID uuid.UUID, in IdentityCheck, actorID *uuid.UUID) (*domain.StepCompletion, error) {
	if strings.TrimSpace(in.DocType) == "" {
		return nil, domain.Validationf("identity document type is required")
	}
	return s.record(ctx, bookingID, actorID, "handover.identity_verified", func(sc *domain.StepCompletion) map[string]interface{} {
		if sc.IdentityVerified {
			return nil
		}
		return map[string]interface{}{"identity_verified": true, "identity_doc_type": in.DocType}
	})
}

// RecordAgreement completes the signature step.
func (s *Service) RecordAgreement(ctx context.Context, bookingID uuid.UUID, in AgreementSignature, actorID *uuid.UUID) (*domain.StepCompletion, error) {
	if strings.TrimSpace(in.SignatureRef) == "" {
		return nil, domain.Validationf("signature reference is required")
	}
	return s.record(ctx, bookingID, actorID, "handover.agreement_signed", func(sc *domain.StepCompletion) map[string]interface{} {
		if sc.AgreementSigned {
			return nil
		}
		return map[string]interface{}{"agreement_signed": true, "signature_ref": in.SignatureRef}
	})
}

// RecordInspection completes the vehicle-inspection step.
func (s *Service) RecordInspection(ctx context.Context, bookingID uuid.UUID, in Inspection, actorID *uuid.UUID) (*domain.StepCompletion, error) {
	checklist, _ := json.Marshal(in.Checklist)
	sc, err := s.record(ctx, bookingID, actorID, "handover.inspection_done", func(sc *domain.StepCompletion) map[string]interface{} {
		if sc.InspectionDone {
			return nil
		}
		return map[string]interface{}{"inspection_done": true, "inspection_checklist": datatypes.JSON(checklist)}
	})
	if err == nil && s.Notify != nil {
		if b, berr := s.loadBooking(ctx, bookingID); berr == nil {
			s.Notify.BookingEvent(ctx, "handover.inspection_done", b)
		}
	}
	return sc, err
}

// AddPhotos appends handover photo refs (cumulative, never replaced).
func (s *Service) AddPhotos(ctx context.Context, bookingID uuid.UUID, in Photos, actorID *uuid.UUID) (*domain.StepCompletion, error) {
	if len(in.Refs) == 0 {
		return nil, domain.Validationf("at least one photo reference is required")
	}
	return s.record(ctx, bookingID, actorID, "handover.photos_added", func(sc *domain.StepCompletion) map[string]interface{} {
		var existing []string
		if len(sc.HandoverPhotos) > 0 {
			_ = json.Unmarshal(sc.HandoverPhotos, &existing)
		}
		merged := append(existing, in.Refs...)
		b, _ := json.Marshal(merged)
		return map[string]interface{}{"handover_photos": datatypes.JSON(b), "photo_count": len(merged)}
	})
}

// SetDeliveryProgress advances the delivery leg for remote handovers.
func (s *Service) SetDeliveryProgress(ctx context.Context, bookingID uuid.UUID, p domain.DeliveryProgress, actorID *uuid.UUID) (*domain.Booking, error) {
	switch p {
	case domain.DeliveryScheduled, domain.DeliveryEnRoute, domain.DeliveryArrived, domain.DeliveryHandedOff:
	default:
		return nil, domain.Validationf("invalid delivery progress %q", p)
	}
	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.loadBookingTx(tx, bookingID)
		if err != nil {
			return err
		}
		if !b.DeliveryMode {
			return domain.Conflictf("booking %s is a counter pickup; no delivery leg", b.Code)
		}
		if p == b.DeliveryProgress || !p.AtLeast(b.DeliveryProgress) {
			// Progress never moves backwards; repeat is idempotent.
			out = b
			return nil
		}
		old := *b
		if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", bookingID).
			Update("delivery_progress", p).Error; err != nil {
			return err
		}
		b.DeliveryProgress = p
		if err := audit.Record(tx, audit.Entry{
			Action: "handover.delivery_progress", EntityType: "booking", EntityID: bookingID,
			ActorID: actorID, OldData: old, NewData: b,
		}); err != nil {
			return err
		}
		out = b
		return nil
	})
	return out, err
}

// gate is the full normal-activation predicate set, checked exhaustively.
func gate(sc *domain.StepCompletion) []string {
	var missing []string
	if !sc.IdentityVerified {
		missing = append(missing, "identity check")
	}
	if !sc.PaymentSettled {
		missing = append(missing, "payment & deposit")
	}
	if !sc.AgreementSigned {
		missing = append(missing, "agreement signature")
	}
	if !sc.InspectionDone {
		missing = append(missing, "vehicle inspection")
	}
	if sc.PhotoCount < MinHandoverPhotos {
		missing = append(missing, "handover photos")
	}
	if !sc.UnitAssigned {
		missing = append(missing, "unit assignment")
	}
	return missing
}

// Activate moves the booking to active once every handover step is satisfied.
// Calling it on an already-active booking returns the booking unchanged.
func (s *Service) Activate(ctx context.Context, bookingID uuid.UUID, actorID *uuid.UUID) (*domain.Booking, error) {
	return s.activate(ctx, bookingID, actorID, nil)
}

// BackupInput is the escape hatch when a step cannot be completed normally.
type BackupInput struct {
	Reason string
}

// BackupActivate bypasses the step gate. It still demands a written reason,
// at least one captured photo, and for delivery bookings an arrived-or-later
// delivery status. Recorded distinctly from normal activation.
func (s *Service) BackupActivate(ctx context.Context, bookingID uuid.UUID, in BackupInput, actorID *uuid.UUID) (*domain.Booking, error) {
	if len(strings.TrimSpace(in.Reason)) < MinBackupReasonLen {
		return nil, domain.Validationf("backup activation reason must be at least %d characters", MinBackupReasonLen)
	}
	return s.activate(ctx, bookingID, actorID, &in)
}

func (s *Service) activate(ctx context.Context, bookingID uuid.UUID, actorID *uuid.UUID, backup *BackupInput) (*domain.Booking, error) {
	var out *domain.Booking
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := s.loadBookingTx(tx, bookingID)
		if err != nil {
			return err
		}
		if b.Status == domain.BookingActive {
			out = b
			return nil
		}
		sc, err := s.steps(tx, bookingID)
		if err != nil {
			return err
		}

		action := "booking.activated"
		if backup == nil {
			if missing := gate(sc); len(missing) > 0 {
				return domain.Conflictf("cannot activate: incomplete steps: %s", strings.Join(missing, ", "))
			}
		} else {
			if sc.PhotoCount < 1 {
				return domain.Validationf("backup activation requires at least one captured photo")
			}
			if b.DeliveryMode && !b.DeliveryProgress.AtLeast(domain.DeliveryArrived) {
				return domain.Conflictf("backup activation requires delivery status of at least arrived")
			}
			action = "booking.backup_activated"
			if err := tx.Model(&domain.StepCompletion{}).Where("booking_id = ?", bookingID).
				Updates(map[string]interface{}{"backup_activation": true, "backup_reason": backup.Reason}).Error; err != nil {
				return err
			}
		}

		old := *b
		from := b.Status
		if from == domain.BookingPending {
			// Pending bookings confirm implicitly on activation.
			if b.PricingSnapshotID == nil {
				return domain.Conflictf("booking %s has no locked pricing; lock pricing before activation", b.Code)
			}
			if _, err := booking.ApplyStatus(tx, bookingID, from, domain.BookingConfirmed, s.now()); err != nil {
				return err
			}
			from = domain.BookingConfirmed
		}
		updated, err := booking.ApplyStatus(tx, bookingID, from, domain.BookingActive, s.now())
		if err != nil {
			return err
		}
		if err := audit.Record(tx, audit.Entry{
			Action: action, EntityType: "booking", EntityID: bookingID,
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
	if s.Notify != nil {
		s.Notify.BookingEvent(ctx, "booking.activated", out)
	}
	return out, nil
}

func (s *Service) loadBookingTx(tx *gorm.DB, bookingID uuid.UUID) (*domain.Booking, error) {
	var b domain.Booking
	if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
		}
		return nil, err
	}
	return &b, nil
}

func (s *Service) loadBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	return s.loadBookingTx(s.DB.WithContext(ctx), bookingID)
}
