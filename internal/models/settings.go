package models

import "github.com/uptrace/bun"

// DefaultPendingLimit is the admission-control threshold used when a
// restaurant has no stored settings row.
const DefaultPendingLimit = 4

// RestaurantSettings is a feature-flag row, one per restaurant. The pending
// limit is a client-side guard re-evaluated each refresh, never an atomic
// server-side check.
type RestaurantSettings struct {
	bun.BaseModel `bun:"table:restaurant_settings"`

	RestaurantID        string `bun:"restaurant_id,pk" json:"restaurant_id"`
	PendingLimitEnabled bool   `bun:"pending_limit_enabled,notnull,default:false" json:"pending_limit_enabled"`
	PendingLimit        int    `bun:"pending_limit,notnull" json:"pending_limit"`
}
