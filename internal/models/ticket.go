package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Ticket statuses. A ticket only ever moves PENDING -> CONFIRMED;
// removal is the soft-delete flag, not a third status.
const (
	StatusPending   = "PENDING"
	StatusConfirmed = "CONFIRMED"
)

type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID           string `bun:"id,pk" json:"id"`
	Code         string `bun:"code,notnull" json:"code"`
	RestaurantID string `bun:"restaurant_id,notnull" json:"restaurant_id"`
	Status       string `bun:"status,notnull" json:"status"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`

	AcknowledgedAt *time.Time `bun:"acknowledged_at,nullzero" json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `bun:"acknowledged_by,nullzero" json:"acknowledged_by,omitempty"`

	SoftDeleted bool       `bun:"soft_deleted,notnull,default:false" json:"soft_deleted"`
	DeletedAt   *time.Time `bun:"deleted_at,nullzero" json:"deleted_at,omitempty"`
	DeletedBy   string     `bun:"deleted_by,nullzero" json:"deleted_by,omitempty"`
}
