package interact

import (
	"context"
	"errors"
	"sync"
	"time"

	"ms-pickup/internal/lifecycle"
	"ms-pickup/internal/logger"
	"ms-pickup/internal/models"
)

// DefaultArmTimeout is how long a confirmed ticket stays armed waiting for
// the second click.
const DefaultArmTimeout = 500 * time.Millisecond

// Tap outcomes.
const (
	OutcomeAcknowledged = "acknowledged"
	OutcomeArmed        = "armed"
	OutcomeDeleted      = "deleted"
)

var (
	// ErrMutationInFlight rejects taps on a ticket whose previous mutation
	// has not settled yet, so a double click never issues two requests.
	ErrMutationInFlight = errors.New("ticket mutation already in flight")

	// ErrNotActionable rejects taps on soft-deleted tickets.
	ErrNotActionable = errors.New("ticket is not actionable")
)

// Lifecycle is the slice of the engine the controller drives.
type Lifecycle interface {
	Acknowledge(ctx context.Context, ticketID string, actor lifecycle.Actor) (*models.Ticket, error)
	SoftDelete(ctx context.Context, ticketID string, actor lifecycle.Actor) (*models.Ticket, error)
}

// Timer is what the arm expiry runs on; wrapped so tests can fire it by
// hand.
type Timer interface {
	Stop() bool
}

type TimerFactory func(d time.Duration, fn func()) Timer

type realTimer struct{ *time.Timer }

func stdTimer(d time.Duration, fn func()) Timer {
	return realTimer{time.AfterFunc(d, fn)}
}

// TapResult tells the caller what the click did, so the view can show the
// "click again to remove" hint when armed.
type TapResult struct {
	Outcome string         `json:"outcome"`
	Ticket  *models.Ticket `json:"ticket,omitempty"`
	Hint    string         `json:"hint,omitempty"`
}

// Controller turns clicks into lifecycle calls: one click acknowledges a
// pending ticket, two clicks within the arm timeout delete a confirmed one.
// At most one ticket is armed across the whole list; switching targets
// re-arms. The controller never touches the visible list itself, it only
// issues mutations and lets the reconciler catch up.
type Controller struct {
	Engine     Lifecycle
	Logger     *logger.Logger
	ArmTimeout time.Duration
	NewTimer   TimerFactory

	mu         sync.Mutex
	armedID    string
	armedGen   uint64
	armedTimer Timer
	inflight   map[string]bool
}

func NewController(engine Lifecycle, log *logger.Logger) *Controller {
	return &Controller{
		Engine:     engine,
		Logger:     log,
		ArmTimeout: DefaultArmTimeout,
		NewTimer:   stdTimer,
		inflight:   make(map[string]bool),
	}
}

// Armed returns the id of the currently armed ticket, empty when idle.
func (c *Controller) Armed() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.armedID
}

// Tap handles one click on a ticket card. The ticket is the caller's
// current rendering of it; the engine re-validates against storage.
func (c *Controller) Tap(ctx context.Context, ticket models.Ticket, actor lifecycle.Actor) (TapResult, error) {
	if ticket.SoftDeleted {
		return TapResult{}, ErrNotActionable
	}

	c.mu.Lock()
	if c.inflight[ticket.ID] {
		c.mu.Unlock()
		return TapResult{}, ErrMutationInFlight
	}

	switch {
	case ticket.Status == models.StatusPending:
		// Single click resolves a pending ticket; any armed ticket loses
		// its armed state.
		c.disarmLocked()
		c.inflight[ticket.ID] = true
		c.mu.Unlock()
		return c.acknowledge(ctx, ticket.ID, actor)

	case c.armedID == ticket.ID:
		// Second click in time: commit the delete.
		c.disarmLocked()
		c.inflight[ticket.ID] = true
		c.mu.Unlock()
		return c.softDelete(ctx, ticket.ID, actor)

	default:
		// First click on a confirmed ticket, or a switch from another
		// armed ticket: this one becomes the single armed target.
		c.disarmLocked()
		c.armedID = ticket.ID
		c.armedGen++
		gen := c.armedGen
		c.armedTimer = c.NewTimer(c.ArmTimeout, func() { c.expire(gen) })
		c.mu.Unlock()
		return TapResult{Outcome: OutcomeArmed, Hint: "click again to remove"}, nil
	}
}

// Close drops any armed state and its timer. Call on teardown.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked()
}

func (c *Controller) acknowledge(ctx context.Context, ticketID string, actor lifecycle.Actor) (TapResult, error) {
	ticket, err := c.Engine.Acknowledge(ctx, ticketID, actor)
	c.settle(ticketID)
	if err != nil {
		return TapResult{}, err
	}
	if c.Logger != nil {
		c.Logger.LogTicket("ACK", ticketID, "acknowledged by "+actor.ID)
	}
	return TapResult{Outcome: OutcomeAcknowledged, Ticket: ticket}, nil
}

func (c *Controller) softDelete(ctx context.Context, ticketID string, actor lifecycle.Actor) (TapResult, error) {
	ticket, err := c.Engine.SoftDelete(ctx, ticketID, actor)
	c.settle(ticketID)
	if err != nil {
		return TapResult{}, err
	}
	if c.Logger != nil {
		c.Logger.LogTicket("DELETE", ticketID, "removed by "+actor.ID)
	}
	return TapResult{Outcome: OutcomeDeleted, Ticket: ticket}, nil
}

func (c *Controller) settle(ticketID string) {
	c.mu.Lock()
	delete(c.inflight, ticketID)
	c.mu.Unlock()
}

// expire fires on arm timeout. The generation guards against a late fire
// disarming a ticket that was re-armed in the meantime.
func (c *Controller) expire(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.armedGen {
		return
	}
	c.armedID = ""
	c.armedTimer = nil
}

func (c *Controller) disarmLocked() {
	if c.armedTimer != nil {
		c.armedTimer.Stop()
		c.armedTimer = nil
	}
	c.armedID = ""
	c.armedGen++
}
