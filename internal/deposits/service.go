package deposits

import (
	"context"
	"strings"
	"time"

	"rentline-backend/internal/audit"
	"rentline-backend/internal/booking"
	"rentline-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// IntentResult is the processor's view of an authorization.
type IntentResult struct {
	ID               string
	ClientSecret     string
	Status           string // processor vocabulary, see mapStatus
	AmountCents      int64
	AmountCapturable int64
	AmountReceived   int64
}

// Authorizer abstracts the payment processor (create/capture/cancel/get keyed
// by intent). The orchestrator depends only on its stated state transitions.
type Authorizer interface {
	CreateIntent(ctx context.Context, amountCents int64, currency string, metadata map[string]string) (*IntentResult, error)
	Capture(ctx context.Context, intentID string, amountCents int64) (*IntentResult, error)
	Cancel(ctx context.Context, intentID string) (*IntentResult, error)
	Get(ctx context.Context, intentID string) (*IntentResult, error)
}

// Service keeps DepositHold rows in lockstep with the processor. Local state
// is a cache: it tolerates staleness and reconciles on poll/webhook instead of
// assuming its own writes are authoritative.
type Service struct {
	DB         *gorm.DB
	Authorizer Authorizer
	Currency   string
	Notify     booking.Notifier
	Now        func() time.Time
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

func (s *Service) currency() string {
	if s.Currency != "" {
		return s.Currency
	}
	return "cad"
}

// CreateResult reports hold creation. AlreadyExists means an authorized hold
// was already in place and no duplicate authorization was created.
type CreateResult struct {
	Hold          *domain.DepositHold `json:"hold"`
	AlreadyExists bool                `json:"already_exists"`
}

// CreateHold opens a deposit authorization for the booking. Idempotent: an
// existing authorized (or in-flight) hold short-circuits.
func (s *Service) CreateHold(ctx context.Context, bookingID uuid.UUID, amountCents int64, actorID *uuid.UUID) (*CreateResult, error) {
	if amountCents <= 0 {
		return nil, domain.Validationf("deposit amount must be positive")
	}

	var b domain.Booking
	if err := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
		}
		return nil, err
	}
	if b.Status.Terminal() {
		return nil, domain.Conflictf("booking %s is %s; no deposit can be taken", b.Code, b.Status)
	}

	var existing domain.DepositHold
	err := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).First(&existing).Error
	if err == nil && !existing.Status.Released() && existing.Status != domain.HoldFailed {
		return &CreateResult{Hold: &existing, AlreadyExists: true}, nil
	}
	if err != nil && err != gorm.ErrRecordNotFound {
		return nil, err
	}

	intent, aerr := s.Authorizer.CreateIntent(ctx, amountCents, s.currency(), map[string]string{
		"booking_id":   b.BookingID.String(),
		"booking_code": b.Code,
	})
	if aerr != nil {
		return nil, &domain.ExternalServiceError{Service: "payment processor", Err: aerr}
	}

	var hold *domain.DepositHold
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		status := mapStatus(intent.Status)
		expires := s.now().Add(7 * 24 * time.Hour) // card auths lapse after ~7 days
		if existing.DepositHoldID != uuid.Nil {
			// Re-arm a failed/lapsed hold row rather than violating the
			// one-row-per-booking invariant.
			if err := tx.Model(&domain.DepositHold{}).Where("deposit_hold_id = ?", existing.DepositHoldID).
				Updates(map[string]interface{}{
					"processor_intent_id": intent.ID,
					"client_secret":       intent.ClientSecret,
					"amount_cents":        amountCents,
					"captured_cents":      0,
					"released_cents":      0,
					"status":              status,
					"expires_at":          expires,
				}).Error; err != nil {
				return err
			}
			hold = &existing
			if err := tx.Where("deposit_hold_id = ?", existing.DepositHoldID).First(hold).Error; err != nil {
				return err
			}
		} else {
			hold = &domain.DepositHold{
				BookingID:         b.BookingID,
				ProcessorIntentID: intent.ID,
				ClientSecret:      intent.ClientSecret,
				AmountCents:       amountCents,
				Status:            status,
				ExpiresAt:         &expires,
			}
			if err := tx.Create(hold).Error; err != nil {
				return err
			}
		}
		if err := s.syncBooking(tx, &b, hold); err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			Action: "deposit.hold_created", EntityType: "deposit_hold", EntityID: hold.DepositHoldID,
			ActorID: actorID, NewData: hold,
		})
	})
	if err != nil {
		return nil, err
	}
	return &CreateResult{Hold: hold}, nil
}

// CaptureResult reports a capture. The uncaptured remainder of the
// authorization is released automatically by the processor.
type CaptureResult struct {
	CapturedCents int64               `json:"captured_cents"`
	ReleasedCents int64               `json:"released_cents"`
	Hold          *domain.DepositHold `json:"hold"`
}

// CaptureHold captures the deposit (fully, or partially when amount is set).
// A reason is mandatory: captures take customer money.
func (s *Service) CaptureHold(ctx context.Context, bookingID uuid.UUID, amountCents *int64, reason string, actorID *uuid.UUID) (*CaptureResult, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, domain.Validationf("capture reason is required")
	}

	hold, err := s.holdFor(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if hold.Status != domain.HoldAuthorized {
		return nil, domain.Conflictf("deposit for booking is %s; only an authorized hold can be captured", hold.Status)
	}

	capture := hold.AmountCents
	if amountCents != nil {
		if *amountCents <= 0 || *amountCents > hold.AmountCents {
			return nil, domain.Validationf("capture amount must be between 1 and the held amount")
		}
		capture = *amountCents
	}
	remainder := hold.AmountCents - capture

	intent, aerr := s.Authorizer.Capture(ctx, hold.ProcessorIntentID, capture)
	if aerr != nil {
		return nil, &domain.ExternalServiceError{Service: "payment processor", Err: aerr}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := *hold
		if err := tx.Model(&domain.DepositHold{}).Where("deposit_hold_id = ?", hold.DepositHoldID).
			Updates(map[string]interface{}{
				"status":         mapStatus(intent.Status),
				"captured_cents": capture,
				"released_cents": remainder,
				"capture_reason": reason,
			}).Error; err != nil {
			return err
		}
		if err := tx.Where("deposit_hold_id = ?", hold.DepositHoldID).First(hold).Error; err != nil {
			return err
		}
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			return err
		}
		if err := s.syncBooking(tx, &b, hold); err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			Action: "deposit.captured", EntityType: "deposit_hold", EntityID: hold.DepositHoldID,
			ActorID: actorID, OldData: old, NewData: hold,
		})
	})
	if err != nil {
		return nil, err
	}
	return &CaptureResult{CapturedCents: capture, ReleasedCents: remainder, Hold: hold}, nil
}

// ReleaseHold cancels the authorization. Idempotent: a second call reports
// alreadyReleased and makes no processor call.
func (s *Service) ReleaseHold(ctx context.Context, bookingID uuid.UUID, reason string, bypassStatusCheck bool) (released bool, alreadyReleased bool, err error) {
	if strings.TrimSpace(reason) == "" {
		return false, false, domain.Validationf("release reason is required")
	}
	hold, err := s.holdFor(ctx, bookingID)
	if err != nil {
		return false, false, err
	}
	if hold.Status.Released() {
		return false, true, nil
	}
	if hold.Status == domain.HoldCaptured {
		return false, false, domain.Conflictf("deposit was captured; captured funds cannot be released")
	}
	if !bypassStatusCheck && hold.Status != domain.HoldAuthorized {
		return false, false, domain.Conflictf("deposit is %s; release requires an authorized hold (or bypass)", hold.Status)
	}

	intent, aerr := s.Authorizer.Cancel(ctx, hold.ProcessorIntentID)
	if aerr != nil {
		return false, false, &domain.ExternalServiceError{Service: "payment processor", Err: aerr}
	}

	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		old := *hold
		if err := tx.Model(&domain.DepositHold{}).Where("deposit_hold_id = ?", hold.DepositHoldID).
			Updates(map[string]interface{}{
				"status":         mapStatus(intent.Status),
				"released_cents": hold.AmountCents,
				"release_reason": reason,
			}).Error; err != nil {
			return err
		}
		if err := tx.Where("deposit_hold_id = ?", hold.DepositHoldID).First(hold).Error; err != nil {
			return err
		}
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			return err
		}
		if err := s.syncBooking(tx, &b, hold); err != nil {
			return err
		}
		return audit.Record(tx, audit.Entry{
			Action: "deposit.released", EntityType: "deposit_hold", EntityID: hold.DepositHoldID,
			OldData: old, NewData: hold,
		})
	})
	if err != nil {
		return false, false, err
	}
	return true, false, nil
}

// Refresh polls the processor and reconciles the local cache. Safe to call on
// any schedule; callers should back off once the status is stable.
func (s *Service) Refresh(ctx context.Context, bookingID uuid.UUID) (*domain.DepositHold, error) {
	hold, err := s.holdFor(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if hold.Status.Stable() {
		return hold, nil
	}
	intent, aerr := s.Authorizer.Get(ctx, hold.ProcessorIntentID)
	if aerr != nil {
		return nil, &domain.ExternalServiceError{Service: "payment processor", Err: aerr}
	}
	return s.reconcile(ctx, hold, intent, "")
}

// reconcile applies the processor's state to the local row (poll or webhook).
// Processor state wins; our previous writes are not assumed authoritative.
func (s *Service) reconcile(ctx context.Context, hold *domain.DepositHold, intent *IntentResult, eventID string) (*domain.DepositHold, error) {
	status := mapStatus(intent.Status)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if eventID != "" {
			// Webhook replays: same event id is a no-op.
			var n int64
			if err := tx.Model(&domain.DepositHold{}).
				Where("deposit_hold_id = ? AND last_event_id = ?", hold.DepositHoldID, eventID).
				Count(&n).Error; err != nil {
				return err
			}
			if n > 0 {
				return nil
			}
		}
		old := *hold
		updates := map[string]interface{}{"status": status}
		if eventID != "" {
			updates["last_event_id"] = eventID
		}
		if intent.AmountReceived > 0 {
			updates["captured_cents"] = intent.AmountReceived
			updates["released_cents"] = hold.AmountCents - intent.AmountReceived
		}
		if err := tx.Model(&domain.DepositHold{}).Where("deposit_hold_id = ?", hold.DepositHoldID).
			Updates(updates).Error; err != nil {
			return err
		}
		if err := tx.Where("deposit_hold_id = ?", hold.DepositHoldID).First(hold).Error; err != nil {
			return err
		}
		var b domain.Booking
		if err := tx.Where("booking_id = ?", hold.BookingID).First(&b).Error; err != nil {
			return err
		}
		if err := s.syncBooking(tx, &b, hold); err != nil {
			return err
		}
		if old.Status == hold.Status {
			return nil
		}
		return audit.Record(tx, audit.Entry{
			Action: "deposit.reconciled", EntityType: "deposit_hold", EntityID: hold.DepositHoldID,
			OldData: old, NewData: hold,
		})
	})
	if err != nil {
		return nil, err
	}
	if status == domain.HoldAuthorized && s.Notify != nil {
		var b domain.Booking
		if err := s.DB.WithContext(ctx).Where("booking_id = ?", hold.BookingID).First(&b).Error; err == nil {
			s.Notify.BookingEvent(ctx, "deposit.authorized", &b)
		}
	}
	return hold, nil
}

// syncBooking mirrors the hold onto the booking ledger fields in the same
// transaction, and keeps the payment step predicate in step.
func (s *Service) syncBooking(tx *gorm.DB, b *domain.Booking, hold *domain.DepositHold) error {
	if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", b.BookingID).
		Updates(map[string]interface{}{
			"deposit_hold_id": hold.DepositHoldID,
			"deposit_status":  string(hold.Status),
		}).Error; err != nil {
		return err
	}
	settled := hold.Status == domain.HoldAuthorized || hold.Status == domain.HoldCaptured
	return tx.Model(&domain.StepCompletion{}).Where("booking_id = ?", b.BookingID).
		Update("payment_settled", settled).Error
}

func (s *Service) holdFor(ctx context.Context, bookingID uuid.UUID) (*domain.DepositHold, error) {
	var hold domain.DepositHold
	if err := s.DB.WithContext(ctx).Where("booking_id = ?", bookingID).First(&hold).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, &domain.NotFoundError{Entity: "deposit hold", ID: bookingID.String()}
		}
		return nil, err
	}
	return &hold, nil
}

// mapStatus translates processor vocabulary to the local lifecycle.
func mapStatus(processor string) domain.HoldStatus {
	switch processor {
	case "requires_payment_method":
		return domain.HoldRequiresPayment
	case "requires_confirmation", "requires_action", "processing":
		return domain.HoldAuthorizing
	case "requires_capture":
		return domain.HoldAuthorized
	case "succeeded":
		return domain.HoldCaptured
	case "canceled":
		return domain.HoldReleased
	case "payment_failed":
		return domain.HoldFailed
	default:
		log.Warn().Str("status", processor).Msg("unknown processor intent status")
		return domain.HoldFailed
	}
}
