package fleet

import (
	"time"

	"rentline-backend/internal/domain"
	"rentline-backend/internal/middleware"
	"rentline-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers holds dependencies for fleet endpoints.
type Handlers struct {
	Service *Service
}

func parseWindow(startStr, endStr string) (time.Time, time.Time, error) {
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return time.Time{}, time.Time{}, fiber.NewError(fiber.StatusBadRequest, "start must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return time.Time{}, time.Time{}, fiber.NewError(fiber.StatusBadRequest, "end must be RFC3339")
	}
	return start, end, nil
}

// GET /api/v1/fleet/available?category_id&location_id&start&end
func (h *Handlers) FindAvailable(c *fiber.Ctx) error {
	catID, err := uuid.Parse(c.Query("category_id"))
	if err != nil {
		return response.Error(c, "category_id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	locID, err := uuid.Parse(c.Query("location_id"))
	if err != nil {
		return response.Error(c, "location_id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	start, end, err := parseWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		return err
	}
	units, err := h.Service.FindAvailable(c.Context(), catID, locID, start, end)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Available units fetched", fiber.Map{"units": units, "count": len(units)}, nil)
}

type holdBody struct {
	CategoryID string `json:"category_id"`
	LocationID string `json:"location_id"`
	UnitID     string `json:"unit_id"` // optional; pins the hold to one unit
	StartAt    string `json:"start_at"`
	EndAt      string `json:"end_at"`
	SessionKey string `json:"session_key"`
	TTLSeconds int    `json:"ttl_seconds"`
}

// POST /api/v1/fleet/holds: take a short-lived checkout hold on the category
// pool, or on one specific unit when unit_id is given.
func (h *Handlers) PlaceHold(c *fiber.Ctx) error {
	var body holdBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	start, end, err := parseWindow(body.StartAt, body.EndAt)
	if err != nil {
		return err
	}
	ttl := time.Duration(body.TTLSeconds) * time.Second

	if body.UnitID != "" {
		unitID, err := uuid.Parse(body.UnitID)
		if err != nil {
			return response.Error(c, "unit_id must be a valid UUID", fiber.StatusBadRequest, nil)
		}
		hold, err := h.Service.HoldUnit(c.Context(), unitID, start, end, body.SessionKey, ttl)
		if err != nil {
			return response.FromError(c, err)
		}
		return response.SuccessCreated(c, "Hold placed", fiber.Map{"hold": hold}, nil)
	}

	catID, err := uuid.Parse(body.CategoryID)
	if err != nil {
		return response.Error(c, "category_id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	locID, err := uuid.Parse(body.LocationID)
	if err != nil {
		return response.Error(c, "location_id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	hold, err := h.Service.HoldCategory(c.Context(), catID, locID, start, end, body.SessionKey, ttl)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Hold placed", fiber.Map{"hold": hold}, nil)
}

// DELETE /api/v1/fleet/holds/:id
func (h *Handlers) ReleaseHold(c *fiber.Ctx) error {
	holdID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "hold id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	if err := h.Service.ReleaseHold(c.Context(), holdID); err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Hold released", nil, nil)
}

// POST /api/v1/fleet/bookings/:id/assign: pick any free unit in the booked category.
func (h *Handlers) AssignUnit(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.AssignUnit(c.Context(), bookingID, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Unit assigned", fiber.Map{"booking": b}, nil)
}

type assignUnitBody struct {
	UnitID string `json:"unit_id"`
}

// POST /api/v1/fleet/bookings/:id/assign-unit: pin a specific unit.
func (h *Handlers) AssignSpecificUnit(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body assignUnitBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	unitID, err := uuid.Parse(body.UnitID)
	if err != nil {
		return response.Error(c, "unit_id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.AssignSpecificUnit(c.Context(), bookingID, unitID, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Unit assigned", fiber.Map{"booking": b}, nil)
}

type releaseBody struct {
	UnitStatus string `json:"unit_status"`
}

// POST /api/v1/fleet/bookings/:id/release-unit
func (h *Handlers) ReleaseUnit(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body releaseBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.ReleaseUnit(c.Context(), bookingID, domain.UnitStatus(body.UnitStatus), middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Unit released", fiber.Map{"booking": b}, nil)
}

type changeCategoryBody struct {
	CategoryID        string `json:"category_id"`
	OverridePerDayFee *int64 `json:"override_per_day_fee_cents"`
}

// POST /api/v1/fleet/bookings/:id/change-category: upgrade/downgrade with per-day fee.
func (h *Handlers) ChangeCategory(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body changeCategoryBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	catID, err := uuid.Parse(body.CategoryID)
	if err != nil {
		return response.Error(c, "category_id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.ChangeCategory(c.Context(), bookingID, catID, body.OverridePerDayFee, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Category changed", fiber.Map{"booking": b}, nil)
}

// POST /api/v1/fleet/bookings/:id/remove-upgrade: restore the pre-upgrade total.
func (h *Handlers) RemoveUpgrade(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.RemoveUpgrade(c.Context(), bookingID, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Upgrade removed", fiber.Map{"booking": b}, nil)
}
