package deposits

import (
	"rentline-backend/internal/middleware"
	"rentline-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers holds dependencies for deposit endpoints.
type Handlers struct {
	Service *Service
}

type createBody struct {
	AmountCents int64 `json:"amount_cents"`
}

// POST /api/v1/deposits/:id/hold: open (or return the existing) deposit authorization.
func (h *Handlers) CreateHold(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body createBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	res, err := h.Service.CreateHold(c.Context(), bookingID, body.AmountCents, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	if res.AlreadyExists {
		return response.Success(c, "Deposit hold already in place", res, nil)
	}
	return response.SuccessCreated(c, "Deposit hold created", res, nil)
}

type captureBody struct {
	AmountCents *int64 `json:"amount_cents"`
	Reason      string `json:"reason"`
}

// POST /api/v1/deposits/:id/capture: capture the hold, fully or partially.
func (h *Handlers) CaptureHold(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body captureBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	res, err := h.Service.CaptureHold(c.Context(), bookingID, body.AmountCents, body.Reason, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Deposit captured", res, nil)
}

type releaseBody struct {
	Reason string `json:"reason"`
	Bypass bool   `json:"bypass_status_check"`
}

// POST /api/v1/deposits/:id/release: cancel the authorization. Idempotent.
func (h *Handlers) ReleaseHold(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body releaseBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	released, already, err := h.Service.ReleaseHold(c.Context(), bookingID, body.Reason, body.Bypass)
	if err != nil {
		return response.FromError(c, err)
	}
	msg := "Deposit released"
	if already {
		msg = "Deposit already released"
	}
	return response.Success(c, msg, fiber.Map{"released": released, "already_released": already}, nil)
}

// POST /api/v1/deposits/:id/refresh: poll the processor and reconcile.
func (h *Handlers) Refresh(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	hold, err := h.Service.Refresh(c.Context(), bookingID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Deposit refreshed", fiber.Map{"hold": hold}, nil)
}

// GET /api/v1/deposits/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	hold, err := h.Service.holdFor(c.Context(), bookingID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Deposit fetched", fiber.Map{"hold": hold}, nil)
}
