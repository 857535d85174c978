package booking

import (
	"time"

	"rentline-backend/internal/middleware"
	"rentline-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

// Handlers holds dependencies for booking endpoints.
type Handlers struct {
	Service *Service
}

type quoteBody struct {
	CategoryID            string `json:"category_id"`
	StartAt               string `json:"start_at"`
	EndAt                 string `json:"end_at"`
	DriverAgeBand         string `json:"driver_age_band"`
	ProtectionCentsPerDay int64  `json:"protection_cents_per_day"`
	AddOnsCents           int64  `json:"add_ons_cents"`
}

func (b quoteBody) toRequest() (QuoteRequest, error) {
	catID, err := uuid.Parse(b.CategoryID)
	if err != nil {
		return QuoteRequest{}, fiber.NewError(fiber.StatusBadRequest, "category_id must be a valid UUID")
	}
	start, err := time.Parse(time.RFC3339, b.StartAt)
	if err != nil {
		return QuoteRequest{}, fiber.NewError(fiber.StatusBadRequest, "start_at must be RFC3339")
	}
	end, err := time.Parse(time.RFC3339, b.EndAt)
	if err != nil {
		return QuoteRequest{}, fiber.NewError(fiber.StatusBadRequest, "end_at must be RFC3339")
	}
	return QuoteRequest{
		CategoryID:            catID,
		StartAt:               start,
		EndAt:                 end,
		DriverAgeBand:         b.DriverAgeBand,
		ProtectionCentsPerDay: b.ProtectionCentsPerDay,
		AddOnsCents:           b.AddOnsCents,
	}, nil
}

// POST /api/v1/bookings/quote: price a prospective rental, no inventory touched.
func (h *Handlers) Quote(c *fiber.Ctx) error {
	var body quoteBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	req, err := body.toRequest()
	if err != nil {
		return err
	}
	bd, in, err := h.Service.Quote(c.Context(), req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Quote computed", fiber.Map{"input": in, "breakdown": bd}, nil)
}

type checkoutBody struct {
	quoteBody
	HoldID        string `json:"hold_id"`
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	CustomerPhone string `json:"customer_phone"`
	DeliveryMode  bool   `json:"delivery_mode"`
}

// POST /api/v1/bookings/checkout: create a pending booking from a checkout hold.
func (h *Handlers) Checkout(c *fiber.Ctx) error {
	var body checkoutBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	req, err := body.toRequest()
	if err != nil {
		return err
	}
	holdID, err := uuid.Parse(body.HoldID)
	if err != nil {
		return response.Error(c, "hold_id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.Checkout(c.Context(), CheckoutInput{
		HoldID:        holdID,
		CustomerName:  body.CustomerName,
		CustomerEmail: body.CustomerEmail,
		CustomerPhone: body.CustomerPhone,
		DeliveryMode:  body.DeliveryMode,
		QuoteRequest:  req,
		ActorID:       middleware.ActorID(c),
	})
	if err != nil {
		return response.FromError(c, err)
	}
	return response.SuccessCreated(c, "Booking created", fiber.Map{"booking": b}, nil)
}

// POST /api/v1/bookings/:id/lock-pricing: recompute and freeze the price.
func (h *Handlers) LockPricing(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body quoteBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	req, err := body.toRequest()
	if err != nil {
		return err
	}
	snap, err := h.Service.LockPricing(c.Context(), bookingID, req, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Pricing locked", fiber.Map{"snapshot": snap}, nil)
}

// POST /api/v1/bookings/:id/confirm
func (h *Handlers) Confirm(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.Confirm(c.Context(), bookingID, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Booking confirmed", fiber.Map{"booking": b}, nil)
}

type editBody struct {
	StartAt    *string `json:"start_at"`
	EndAt      *string `json:"end_at"`
	LocationID *string `json:"location_id"`
}

// PATCH /api/v1/bookings/:id: edit dates/location, invalidates locked pricing.
func (h *Handlers) Edit(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body editBody
	if err := c.BodyParser(&body); err != nil {
		return response.Error(c, "Invalid request body", fiber.StatusBadRequest, nil)
	}
	in := EditInput{ActorID: middleware.ActorID(c)}
	if body.StartAt != nil {
		t, err := time.Parse(time.RFC3339, *body.StartAt)
		if err != nil {
			return response.Error(c, "start_at must be RFC3339", fiber.StatusBadRequest, nil)
		}
		in.StartAt = &t
	}
	if body.EndAt != nil {
		t, err := time.Parse(time.RFC3339, *body.EndAt)
		if err != nil {
			return response.Error(c, "end_at must be RFC3339", fiber.StatusBadRequest, nil)
		}
		in.EndAt = &t
	}
	if body.LocationID != nil {
		id, err := uuid.Parse(*body.LocationID)
		if err != nil {
			return response.Error(c, "location_id must be a valid UUID", fiber.StatusBadRequest, nil)
		}
		in.LocationID = &id
	}
	b, err := h.Service.Edit(c.Context(), bookingID, in)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Booking updated", fiber.Map{"booking": b}, nil)
}

type cancelBody struct {
	Reason string `json:"reason"`
}

// POST /api/v1/bookings/:id/cancel
func (h *Handlers) Cancel(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	var body cancelBody
	_ = c.BodyParser(&body)
	b, err := h.Service.Cancel(c.Context(), bookingID, body.Reason, middleware.ActorID(c))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Booking cancelled", fiber.Map{"booking": b}, nil)
}

// GET /api/v1/bookings/:id
func (h *Handlers) Get(c *fiber.Ctx) error {
	bookingID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "booking id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	b, err := h.Service.Get(c.Context(), bookingID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Booking fetched", fiber.Map{"booking": b}, nil)
}
