package audit

import (
	"rentline-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Handlers exposes the read side of the audit trail.
type Handlers struct {
	DB *gorm.DB
}

// GET /api/v1/audit/:entity_type/:id: newest first.
func (h *Handlers) ForEntity(c *fiber.Ctx) error {
	entityType := c.Params("entity_type")
	entityID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return response.Error(c, "entity id must be a valid UUID", fiber.StatusBadRequest, nil)
	}
	logs, err := ForEntity(h.DB, entityType, entityID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Success(c, "Audit log fetched", fiber.Map{"entries": logs, "count": len(logs)}, nil)
}
