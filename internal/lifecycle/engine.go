package lifecycle

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"ms-pickup/internal/models"
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{4}$`)

// TicketStore is the data store surface the engine mutates through. The
// store maps driver conflicts to ErrDuplicateCode, throttling to
// ErrRateLimited and missing rows to ErrNotFound.
type TicketStore interface {
	CreateTicket(ctx context.Context, ticket models.Ticket) error
	GetTicketByID(ctx context.Context, id string) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, ticket models.Ticket) error
	ListTickets(ctx context.Context, restaurantID string) ([]models.Ticket, error)
	GetSettings(ctx context.Context, restaurantID string) (*models.RestaurantSettings, error)
}

// ChangePublisher fans a mutation hint out to live list subscribers.
type ChangePublisher interface {
	PublishChange(ctx context.Context, change models.TicketChange) error
}

// EventPublisher streams lifecycle events for downstream analytics.
type EventPublisher interface {
	PublishTicketEvent(ctx context.Context, event string, ticket models.Ticket) error
}

// Engine owns every rule about what a ticket is allowed to become. All
// mutations go through here; handlers and the interaction controller never
// write the store directly.
type Engine struct {
	Store   TicketStore
	Changes ChangePublisher
	Events  EventPublisher

	Window time.Duration
	Now    func() time.Time
}

func NewEngine(store TicketStore, changes ChangePublisher, events EventPublisher) *Engine {
	return &Engine{
		Store:   store,
		Changes: changes,
		Events:  events,
		Window:  DefaultVisibilityWindow,
		Now:     time.Now,
	}
}

// Create validates and inserts a new pending ticket. The pending-limit
// guard runs before any store write: if the restaurant already shows the
// configured number of pending tickets, the call is rejected locally.
// Concurrent couriers can still race past the guard; that is accepted.
func (e *Engine) Create(ctx context.Context, code, restaurantID string, actor Actor) (*models.Ticket, error) {
	if !codePattern.MatchString(code) {
		return nil, ErrInvalidCode
	}
	caps := ResolveCapabilities(actor)
	if !caps.CreateTickets {
		return nil, ErrForbidden
	}
	if restaurantID == "" {
		restaurantID = actor.RestaurantID
	}
	if restaurantID == "" {
		return nil, ErrUnassigned
	}
	if !actor.InScope(restaurantID) {
		return nil, ErrForbidden
	}

	if err := e.checkPendingLimit(ctx, restaurantID); err != nil {
		return nil, err
	}

	ticket := models.Ticket{
		ID:           uuid.New().String(),
		Code:         code,
		RestaurantID: restaurantID,
		Status:       models.StatusPending,
		CreatedAt:    e.Now(),
	}
	if err := e.Store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	e.notify(ctx, models.ChangeInsert, "ticket_created", ticket)
	return &ticket, nil
}

// Acknowledge moves a pending ticket to confirmed and stamps who resolved
// it. Acknowledging an already-confirmed ticket is a no-op; concurrent
// acknowledgers race last-write-wins by row id.
func (e *Engine) Acknowledge(ctx context.Context, ticketID string, actor Actor) (*models.Ticket, error) {
	caps := ResolveCapabilities(actor)
	if !caps.AcknowledgeTickets {
		return nil, ErrForbidden
	}
	ticket, err := e.Store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.InScope(ticket.RestaurantID) {
		return nil, ErrForbidden
	}
	if ticket.SoftDeleted {
		return nil, ErrAlreadyDeleted
	}
	if ticket.Status == models.StatusConfirmed {
		return ticket, nil
	}

	now := e.Now()
	ticket.Status = models.StatusConfirmed
	ticket.AcknowledgedAt = &now
	ticket.AcknowledgedBy = actor.ID
	if err := e.Store.UpdateTicket(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("acknowledge ticket %s: %w", ticketID, err)
	}

	e.notify(ctx, models.ChangeUpdate, "ticket_acknowledged", *ticket)
	return ticket, nil
}

// SoftDelete marks a ticket removed without erasing it. Status is left
// untouched: a pending ticket can be deleted directly.
func (e *Engine) SoftDelete(ctx context.Context, ticketID string, actor Actor) (*models.Ticket, error) {
	caps := ResolveCapabilities(actor)
	if !caps.DeleteTickets {
		return nil, ErrForbidden
	}
	ticket, err := e.Store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !actor.InScope(ticket.RestaurantID) {
		return nil, ErrForbidden
	}
	if ticket.SoftDeleted {
		return nil, ErrAlreadyDeleted
	}

	now := e.Now()
	ticket.SoftDeleted = true
	ticket.DeletedAt = &now
	ticket.DeletedBy = actor.ID
	if err := e.Store.UpdateTicket(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("delete ticket %s: %w", ticketID, err)
	}

	e.notify(ctx, models.ChangeDelete, "ticket_deleted", *ticket)
	return ticket, nil
}

// Restore undoes a soft delete, returning the ticket to whatever active
// state it held before: status and acknowledgment fields are untouched.
// Admin only.
func (e *Engine) Restore(ctx context.Context, ticketID string, actor Actor) (*models.Ticket, error) {
	caps := ResolveCapabilities(actor)
	if !caps.RestoreTickets {
		return nil, ErrForbidden
	}
	ticket, err := e.Store.GetTicketByID(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if !ticket.SoftDeleted {
		return nil, ErrNotDeleted
	}

	ticket.SoftDeleted = false
	ticket.DeletedAt = nil
	ticket.DeletedBy = ""
	if err := e.Store.UpdateTicket(ctx, *ticket); err != nil {
		return nil, fmt.Errorf("restore ticket %s: %w", ticketID, err)
	}

	e.notify(ctx, models.ChangeUpdate, "ticket_restored", *ticket)
	return ticket, nil
}

func (e *Engine) checkPendingLimit(ctx context.Context, restaurantID string) error {
	settings, err := e.Store.GetSettings(ctx, restaurantID)
	if err != nil || settings == nil || !settings.PendingLimitEnabled {
		// No settings row or unreadable settings means the guard is off.
		return nil
	}
	limit := settings.PendingLimit
	if limit <= 0 {
		limit = models.DefaultPendingLimit
	}
	tickets, err := e.Store.ListTickets(ctx, restaurantID)
	if err != nil {
		// The guard is advisory; a failed count must not block creation.
		return nil
	}
	if CountVisiblePending(tickets, restaurantID, e.Now(), e.Window) >= limit {
		return ErrPendingLimitReached
	}
	return nil
}

// notify publishes the change hint and the analytics event. Both are best
// effort: a dead broker never fails the mutation that already committed.
func (e *Engine) notify(ctx context.Context, action, event string, ticket models.Ticket) {
	if e.Changes != nil {
		_ = e.Changes.PublishChange(ctx, models.TicketChange{
			Action:       action,
			TicketID:     ticket.ID,
			RestaurantID: ticket.RestaurantID,
			OccurredAt:   e.Now(),
		})
	}
	if e.Events != nil {
		_ = e.Events.PublishTicketEvent(ctx, event, ticket)
	}
}
