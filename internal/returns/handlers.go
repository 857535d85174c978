package returns

import (
	"rentline-backend/internal/domain"
	"rentline-backend/internal/middleware"
	"rentline-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers holds dependencies for return-workflow endpoints.
type Handlers struct {
	Service *Service
}

type transitionBody struct {
	To              string `json:"to"`
	ExceptionFlag   bool   `json:"exception_flag"`
	ExceptionReason string `json:"exception_reason"`
}

// POST /api/v1/returns/:id/transition: advance the return workflow one step.
// Replays of an already-reached state come back 200 with already_complete.
func (h *Handlers) Transition(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body transitionBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	actor := middleware.ActorID(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	res, err := h.Service.Transition(c.Context(), bookingID, TransitionInput{
		To:              domain.ReturnState(body.To),
		ActorID:         *actor,
		ExceptionFlag:   body.ExceptionFlag,
		ExceptionReason: body.ExceptionReason,
	})
	if err != nil {
		return response.FromError(c, err)
	}
	msg := "Return step recorded"
	if res.AlreadyComplete {
		msg = "Return step already recorded"
	}
	return response.Success(c, msg, res, nil)
}

type finalizeBody struct {
	UnitStatus string `json:"unit_status"`
}

// POST /api/v1/returns/:id/finalize: close the contract and release the unit.
func (h *Handlers) Finalize(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body finalizeBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	actor := middleware.ActorID(c)
	if actor == nil {
		return response.Unauthorized(c, "Unauthorized")
	}
	b, err := h.Service.Finalize(c.Context(), bookingID, domain.UnitStatus(body.UnitStatus), *actor)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Booking finalized", fiber.Map{"booking": b}, nil)
}
