package returns

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

// allowTransition is the return-workflow allow-list: strictly ordered, no
// skipping. Validated against the persisted state, never a client-supplied one.
var allowTransition = map[domain.ReturnState]domain.ReturnState{
	domain.ReturnNotStarted:     domain.ReturnInitiated,
	domain.ReturnInitiated:      domain.ReturnIntakeDone,
	domain.ReturnIntakeDone:     domain.ReturnEvidenceDone,
	domain.ReturnEvidenceDone:   domain.ReturnIssuesReviewed,
	domain.ReturnIssuesReviewed: domain.ReturnCloseoutDone,
}

var stateRank = map[domain.ReturnState]int{
	domain.ReturnNotStarted:     0,
	domain.ReturnInitiated:      1,
	domain.ReturnIntakeDone:     2,
	domain.ReturnEvidenceDone:   3,
	domain.ReturnIssuesReviewed: 4,
	domain.ReturnCloseoutDone:   5,
}

// Service advances the drop-off workflow. closeout_done records the last step
// only; flipping the booking to completed is the separate, more privileged
// Finalize operation.
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

// TransitionInput is one workflow step request.
type TransitionInput struct {
	To              domain.ReturnState
	ActorID         uuid.UUID
	ExceptionFlag   bool   // only meaningful on issues_reviewed
	ExceptionReason string // required when ExceptionFlag is set
}

// Result reports the transition outcome. AlreadyComplete means the requested
// state was reached (or passed) before this call; nothing was re-applied.
type Result struct {
	Booking         *domain.Booking `json:"booking"`
	AlreadyComplete bool            `json:"already_complete"`
}

type stamp struct {
	State   string    `json:"state"`
	ActorID string    `json:"actor_id"`
	At      time.Time `json:"at"`
}

// Transition applies one return-workflow step. The conditional update on the
// persisted state linearizes concurrent attempts: one winner, one
// InvalidTransition loser.
func (s *Service) Transition(ctx context.Context, bookingID uuid.UUID, in TransitionInput) (*Result, error) {
	if _, ok := stateRank[in.To]; !ok || in.To == domain.ReturnNotStarted {
		return nil, domain.Validationf("invalid return state %q", in.To)
	}
	if in.ExceptionFlag && in.To != domain.ReturnIssuesReviewed {
		return nil, domain.Validationf("exception flag is only valid on issues_reviewed")
	}
	if in.ExceptionFlag && strings.TrimSpace(in.ExceptionReason) == "" {
		return nil, domain.Validationf("exception reason is required when flagging an exception")
	}

	var out *Result
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b domain.Booking
		if err := tx.Where("booking_id = ?", bookingID).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return &domain.NotFoundError{Entity: "booking", ID: bookingID.String()}
			}
			return err
		}
		// Already-reached states replay as no-ops even after the booking was
		// finalized; only new steps need it active.
		if stateRank[in.To] <= stateRank[b.ReturnState] {
			out = &Result{Booking: &b, AlreadyComplete: true}
			return nil
		}
		if b.Status != domain.BookingActive {
			return domain.Conflictf("return workflow requires an active booking; %s is %s", b.Code, b.Status)
		}
		from := b.ReturnState
		if allowTransition[from] != in.To {
			return &domain.InvalidTransitionError{Entity: "return", From: string(from), To: string(in.To)}
		}

		res := tx.Model(&domain.Booking{}).
			Where("booking_id = ? AND return_state = ?", bookingID, from).
			Update("return_state", in.To)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return &domain.InvalidTransitionError{Entity: "return", From: string(from), To: string(in.To)}
		}

		if err := s.stampTransition(tx, &b, in); err != nil {
			return err
		}

		b.ReturnState = in.To
		if err := audit.Record(tx, audit.Entry{
			Action: "return." + string(in.To), EntityType: "booking", EntityID: bookingID,
			ActorID: &in.ActorID, OldData: map[string]string{"return_state": string(from)},
			NewData: map[string]string{"return_state": string(in.To)},
		}); err != nil {
			return err
		}
		out = &Result{Booking: &b}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !out.AlreadyComplete && in.To == domain.ReturnCloseoutDone && s.Notify != nil {
		s.Notify.BookingEvent(ctx, "return.closed", out.Booking)
	}
	return out, nil
}

func (s *Service) stampTransition(tx *gorm.DB, b *domain.Booking, in TransitionInput) error {
	var sc domain.StepCompletion
	if err := tx.Where("booking_id = ?", b.BookingID).First(&sc).Error; err != nil {
		return err
	}
	var stamps []stamp
	if len(sc.ReturnStamps) > 0 {
		_ = json.Unmarshal(sc.ReturnStamps, &stamps)
	}
	stamps = append(stamps, stamp{State: string(in.To), ActorID: in.ActorID.String(), At: s.now()})
	raw, _ := json.Marshal(stamps)

	updates := map[string]interface{}{"return_stamps": datatypes.JSON(raw)}
	if in.To == domain.ReturnIssuesReviewed && in.ExceptionFlag {
		updates["return_exception"] = true
		updates["exception_reason"] = in.ExceptionReason
	}
	return tx.Model(&domain.StepCompletion{}).Where("booking_id = ?", b.BookingID).
		Updates(updates).Error
}

// Finalize completes the contract: active -> completed, unit released back to
// the pool (or to maintenance/damage when the return flagged an exception).
// Separate from closeout_done; callers gate it on a stronger permission.
func (s *Service) Finalize(ctx context.Context, bookingID uuid.UUID, unitStatus domain.UnitStatus, actorID uuid.UUID) (*domain.Booking, error) {
	if unitStatus == "" {
		unitStatus = domain.UnitAvailable
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
		if b.Status == domain.BookingCompleted {
			out = &b
			return nil
		}
		if b.ReturnState != domain.ReturnCloseoutDone {
			return domain.Conflictf("cannot finalize %s: return workflow is at %s", b.Code, b.ReturnState)
		}

		old := b
		updated, err := booking.ApplyStatus(tx, bookingID, b.Status, domain.BookingCompleted, s.now())
		if err != nil {
			return err
		}
		if updated.UnitID != nil {
			if err := tx.Model(&domain.VehicleUnit{}).Where("unit_id = ?", *updated.UnitID).
				Updates(map[string]interface{}{"status": unitStatus, "current_booking_id": nil}).Error; err != nil {
				return err
			}
			if err := tx.Model(&domain.Booking{}).Where("booking_id = ?", bookingID).
				Update("unit_id", nil).Error; err != nil {
				return err
			}
			updated.UnitID = nil
		}
		if err := audit.Record(tx, audit.Entry{
			Action: "booking.finalized", EntityType: "booking", EntityID: bookingID,
			ActorID: &actorID, OldData: old, NewData: updated,
		}); err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
