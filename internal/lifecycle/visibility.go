package lifecycle

import (
	"sort"
	"time"

	"ms-pickup/internal/models"
)

// DefaultVisibilityWindow is how long a resolved ticket stays on active
// views after its terminal event.
const DefaultVisibilityWindow = time.Minute

// IsVisible decides whether a ticket belongs on an active list view at the
// given instant. The predicate is time-dependent: a ticket can drop out of
// view without any underlying mutation, so callers must re-evaluate it on
// every refresh. The history view does not use this predicate.
func IsVisible(t models.Ticket, now time.Time, window time.Duration) bool {
	if t.SoftDeleted {
		if t.DeletedAt == nil {
			return false
		}
		return now.Sub(*t.DeletedAt) < window
	}
	if t.Status == models.StatusConfirmed {
		// Missing acknowledged_at on a confirmed ticket should not occur;
		// treat it as expired rather than pinning it on screen forever.
		if t.AcknowledgedAt == nil {
			return false
		}
		return now.Sub(*t.AcknowledgedAt) < window
	}
	return true
}

// FilterVisible returns the tickets passing IsVisible, preserving order.
func FilterVisible(tickets []models.Ticket, now time.Time, window time.Duration) []models.Ticket {
	visible := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		if IsVisible(t, now, window) {
			visible = append(visible, t)
		}
	}
	return visible
}

// CountVisiblePending counts pending tickets a courier currently sees for a
// restaurant. Feeds the admission guard in Create.
func CountVisiblePending(tickets []models.Ticket, restaurantID string, now time.Time, window time.Duration) int {
	n := 0
	for _, t := range tickets {
		if t.RestaurantID != restaurantID {
			continue
		}
		if t.Status == models.StatusPending && !t.SoftDeleted && IsVisible(t, now, window) {
			n++
		}
	}
	return n
}

// SortActive orders an active view: still-visible deleted tickets first
// (completed work), then pending before confirmed, newest first within each
// group.
func SortActive(tickets []models.Ticket) {
	rank := func(t models.Ticket) int {
		switch {
		case t.SoftDeleted:
			return 0
		case t.Status == models.StatusPending:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(tickets, func(i, j int) bool {
		ri, rj := rank(tickets[i]), rank(tickets[j])
		if ri != rj {
			return ri < rj
		}
		return tickets[i].CreatedAt.After(tickets[j].CreatedAt)
	})
}
