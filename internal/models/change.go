package models

import "time"

// Change actions carried on the ticket change feed.
const (
	ChangeInsert = "insert"
	ChangeUpdate = "update"
	ChangeDelete = "delete"
)

// TicketChange is the payload published on the redis change channel after
// every ticket mutation. Subscribers treat it as a hint to refetch, not as
// authoritative state.
type TicketChange struct {
	Action       string    `json:"action"`
	TicketID     string    `json:"ticket_id"`
	RestaurantID string    `json:"restaurant_id"`
	OccurredAt   time.Time `json:"occurred_at"`
}
