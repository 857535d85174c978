package audit

import (
	"encoding/json"

	"rentline-backend/internal/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one audit record. OldData/NewData are marshalled snapshots of the
// entity before/after the mutation (nil is fine for creates/reads).
type Entry struct {
	Action     string
	EntityType string
	EntityID   uuid.UUID
	ActorID    *uuid.UUID
	OldData    interface{}
	NewData    interface{}
}

// Record appends an audit row using the caller's transaction handle, so the
// audit write commits or rolls back together with the mutation it describes.
func Record(tx *gorm.DB, e Entry) error {
	row := domain.AuditLog{
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		OldData:    marshal(e.OldData),
		NewData:    marshal(e.NewData),
	}
	return tx.Create(&row).Error
}

func marshal(v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Err(err).Msg("audit payload marshal failed")
		return nil
	}
	return datatypes.JSON(b)
}

// ForEntity lists the trail for one entity, oldest first.
func ForEntity(db *gorm.DB, entityType string, entityID uuid.UUID) ([]domain.AuditLog, error) {
	var rows []domain.AuditLog
	err := db.Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order(`"createdAt" ASC`).Find(&rows).Error
	return rows, err
}
