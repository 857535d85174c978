package handover

import (
	"rentline-backend/internal/domain"
	"rentline-backend/internal/middleware"
	"rentline-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers holds dependencies for handover endpoints.
type Handlers struct {
	Service *Service
}

func bookingParam(c *fiber.Ctx) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "booking id must be a valid UUID")
	}
	return id, nil
}

type identityBody struct {
	DocType string `json:"doc_type"`
}

// POST /api/v1/handover/:id/identity
func (h *Handlers) RecordIdentity(c *fiber.Ctx) error {
	bookingID, err := bookingParam(c)
	if err != nil {
		return err
	}
	var body identityBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	sc, err := h.Service.RecordIdentity(c.Context(), bookingID, IdentityCheck{DocType: body.DocType}, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Identity recorded", fiber.Map{"steps": sc}, nil)
}

type agreementBody struct {
	SignatureRef string `json:"signature_ref"`
}

// POST /api/v1/handover/:id/agreement
func (h *Handlers) RecordAgreement(c *fiber.Ctx) error {
	bookingID, err := bookingParam(c)
	if err != nil {
		return err
	}
	var body agreementBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	sc, err := h.Service.RecordAgreement(c.Context(), bookingID, AgreementSignature{SignatureRef: body.SignatureRef}, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Agreement recorded", fiber.Map{"steps": sc}, nil)
}

type inspectionBody struct {
	Checklist map[string]bool `json:"checklist"`
}

// POST /api/v1/handover/:id/inspection
func (h *Handlers) RecordInspection(c *fiber.Ctx) error {
	bookingID, err := bookingParam(c)
	if err != nil {
		return err
	}
	var body inspectionBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	sc, err := h.Service.RecordInspection(c.Context(), bookingID, Inspection{Checklist: body.Checklist}, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Inspection recorded", fiber.Map{"steps": sc}, nil)
}

type photosBody struct {
	Refs []string `json:"refs"`
}

// POST /api/v1/handover/:id/photos: cumulative, min 4 before normal activation.
func (h *Handlers) AddPhotos(c *fiber.Ctx) error {
	bookingID, err := bookingParam(c)
	if err != nil {
		return err
	}
	var body photosBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	sc, err := h.Service.AddPhotos(c.Context(), bookingID, Photos{Refs: body.Refs}, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Photos recorded", fiber.Map{"steps": sc}, nil)
}

type deliveryBody struct {
	Progress string `json:"progress"`
}

// POST /api/v1/handover/:id/delivery: advance delivery progress (never backwards).
func (h *Handlers) SetDeliveryProgress(c *fiber.Ctx) error {
	bookingID, err := bookingParam(c)
	if err != nil {
		return err
	}
	var body deliveryBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.SetDeliveryProgress(c.Context(), bookingID, domain.DeliveryProgress(body.Progress), middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Delivery progress updated", fiber.Map{"booking": b}, nil)
}

// POST /api/v1/handover/:id/activate: gate on all steps, then confirmed -> active.
func (h *Handlers) Activate(c *fiber.Ctx) error {
	bookingID, err := bookingParam(c)
	if err != nil {
		return err
	}
	b, err := h.Service.Activate(c.Context(), bookingID, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Booking activated", fiber.Map{"booking": b}, nil)
}

type backupBody struct {
	Reason string `json:"reason"`
}

// POST /api/v1/handover/:id/backup-activate: manager override when the gate
// cannot be satisfied at the counter. Reason is mandatory and audited.
func (h *Handlers) BackupActivate(c *fiber.Ctx) error {
	bookingID, err := bookingParam(c)
	if err != nil {
		return err
	}
	var body backupBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.BackupActivate(c.Context(), bookingID, BackupInput{Reason: body.Reason}, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Booking activated (backup)", fiber.Map{"booking": b}, nil)
}
