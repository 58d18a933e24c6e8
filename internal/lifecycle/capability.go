package lifecycle

import "ms-pickup/internal/models"

// Actor is the session identity the engine authorizes against: who is
// acting, with which role, and for which restaurant.
type Actor struct {
	ID           string
	Role         string
	Status       string
	RestaurantID string
}

// Capabilities is the single place role flags are resolved. Routing guards
// and the engine both consume this; nothing else re-derives booleans from
// the role string.
type Capabilities struct {
	CreateTickets      bool
	AcknowledgeTickets bool
	DeleteTickets      bool
	RestoreTickets     bool
	ManageUsers        bool
	AllRestaurants     bool
}

// ResolveCapabilities maps an actor to its capability set. Accounts that
// are not approved get no capabilities regardless of role.
func ResolveCapabilities(a Actor) Capabilities {
	if a.Status != models.UserApproved {
		return Capabilities{}
	}
	switch a.Role {
	case models.RoleCourier:
		return Capabilities{CreateTickets: true}
	case models.RoleRestaurant:
		return Capabilities{AcknowledgeTickets: true, DeleteTickets: true}
	case models.RoleAdmin:
		return Capabilities{
			CreateTickets:      true,
			AcknowledgeTickets: true,
			DeleteTickets:      true,
			RestoreTickets:     true,
			ManageUsers:        true,
			AllRestaurants:     true,
		}
	}
	return Capabilities{}
}

// InScope reports whether the actor may touch tickets of the given
// restaurant. Admins are unscoped.
func (a Actor) InScope(restaurantID string) bool {
	if ResolveCapabilities(a).AllRestaurants {
		return true
	}
	return a.RestaurantID != "" && a.RestaurantID == restaurantID
}
