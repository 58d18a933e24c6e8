package models

import (
	"time"

	"github.com/uptrace/bun"
)

// Roles. "restaurant" is the counter staff account tied to a single
// restaurant; couriers also carry a restaurant assignment once approved.
const (
	RoleCourier    = "courier"
	RoleRestaurant = "restaurant"
	RoleAdmin      = "admin"
)

// Account approval statuses.
const (
	UserPending  = "pending"
	UserApproved = "approved"
	UserRejected = "rejected"
)

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID           string    `bun:"id,pk" json:"id"`
	Email        string    `bun:"email,unique,notnull" json:"email"`
	FullName     string    `bun:"full_name,notnull" json:"full_name"`
	Role         string    `bun:"role,notnull" json:"role"`
	Status       string    `bun:"status,notnull" json:"status"`
	RestaurantID string    `bun:"restaurant_id,nullzero" json:"restaurant_id,omitempty"`
	CreatedAt    time.Time `bun:"created_at,notnull" json:"created_at"`
}
