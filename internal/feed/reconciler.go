package feed

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-pickup/internal/lifecycle"
	"ms-pickup/internal/logger"
	"ms-pickup/internal/models"
)

// DefaultPollInterval is the fixed refresh cadence. Failed fetches are
// retried by the next tick; there is no extra backoff.
const DefaultPollInterval = 5 * time.Second

// Fetcher issues the one full scoped query per trigger.
type Fetcher interface {
	ListTickets(ctx context.Context, restaurantID string) ([]models.Ticket, error)
}

// ChangeFeed is a live change subscription for one scope.
type ChangeFeed interface {
	Changes() <-chan models.TicketChange
	Close() error
}

// SubscribeFunc opens a change feed for a scope. Nil disables push
// triggers, leaving only the poll ticker.
type SubscribeFunc func(ctx context.Context, restaurantID string) (ChangeFeed, error)

// Snapshot is one consistent rendering of the active view: visibility
// filtered, sorted, stamped with the request sequence that produced it.
type Snapshot struct {
	Scope       string
	Tickets     []models.Ticket
	Seq         uint64
	RefreshedAt time.Time
}

// Reconciler keeps the in-memory active list consistent with the store
// under two triggers: the poll ticker and push change notifications. It is
// the only writer of its snapshot; mutators go through the lifecycle engine
// and wait for the next pass here.
type Reconciler struct {
	Fetcher   Fetcher
	Subscribe SubscribeFunc
	Logger    *logger.Logger

	Interval time.Duration
	Window   time.Duration
	Now      func() time.Time

	// OnUpdate is invoked outside the lock with each applied snapshot.
	OnUpdate func(Snapshot)

	mu          sync.Mutex
	scope       string
	scopeGen    uint64
	seq         uint64
	appliedSeq  uint64
	inflight    bool
	pending     bool
	cancelFetch context.CancelFunc
	snapshot    Snapshot
	lastErr     error

	baseCtx context.Context
	scopeCh chan struct{}
}

func NewReconciler(fetcher Fetcher, subscribe SubscribeFunc, log *logger.Logger) *Reconciler {
	return &Reconciler{
		Fetcher:   fetcher,
		Subscribe: subscribe,
		Logger:    log,
		Interval:  DefaultPollInterval,
		Window:    lifecycle.DefaultVisibilityWindow,
		Now:       time.Now,
		baseCtx:   context.Background(),
		scopeCh:   make(chan struct{}, 1),
	}
}

// Snapshot returns the current active view. Never cleared on error; a
// failed refresh leaves the previous list in place.
func (r *Reconciler) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshot
}

// LastError reports the most recent fetch failure, cleared by the next
// successful refresh. Surfaced as a transient notification, never fatal.
func (r *Reconciler) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// SetScope switches the reconciled restaurant filter. Any in-flight fetch
// for the old scope is invalidated immediately and a fresh one issued.
func (r *Reconciler) SetScope(restaurantID string) {
	r.mu.Lock()
	if restaurantID == r.scope && r.scopeGen > 0 {
		r.mu.Unlock()
		return
	}
	r.scope = restaurantID
	r.scopeGen++
	if r.cancelFetch != nil {
		r.cancelFetch()
		r.cancelFetch = nil
	}
	r.mu.Unlock()

	// Tell the run loop to resubscribe. The signal carries no payload; the
	// loop re-reads the scope when it wakes, so a queued signal is enough
	// even when scope changes arrive faster than the loop drains them.
	select {
	case r.scopeCh <- struct{}{}:
	default:
	}
	r.Refresh()
}

// Refresh issues one scoped fetch. If a fetch is already in flight the
// trigger is queued and replayed once, so triggers coalesce instead of
// stacking. Results apply only when they carry the highest issued sequence
// for the current scope generation; stale responses are discarded no matter
// their arrival order.
func (r *Reconciler) Refresh() {
	r.mu.Lock()
	if r.inflight {
		r.pending = true
		r.mu.Unlock()
		return
	}
	r.inflight = true
	r.seq++
	seq := r.seq
	scope := r.scope
	gen := r.scopeGen
	ctx, cancel := context.WithCancel(r.baseCtx)
	r.cancelFetch = cancel
	r.mu.Unlock()

	go r.fetch(ctx, scope, gen, seq)
}

func (r *Reconciler) fetch(ctx context.Context, scope string, gen, seq uint64) {
	tickets, err := r.Fetcher.ListTickets(ctx, scope)

	r.mu.Lock()
	r.inflight = false
	replay := r.pending
	r.pending = false
	stale := gen != r.scopeGen || seq <= r.appliedSeq

	var applied *Snapshot
	switch {
	case err != nil:
		if !stale {
			r.lastErr = fmt.Errorf("refresh %q: %w", scopeLabel(scope), err)
		}
	case stale:
		// A newer request or scope owns the view now.
	default:
		now := r.Now()
		visible := lifecycle.FilterVisible(tickets, now, r.Window)
		lifecycle.SortActive(visible)
		r.appliedSeq = seq
		r.lastErr = nil
		r.snapshot = Snapshot{Scope: scope, Tickets: visible, Seq: seq, RefreshedAt: now}
		snap := r.snapshot
		applied = &snap
	}
	onUpdate := r.OnUpdate
	r.mu.Unlock()

	if err != nil && r.Logger != nil {
		r.Logger.LogFeed("REFRESH", fmt.Sprintf("fetch failed for %s, keeping previous list: %v", scopeLabel(scope), err))
	}
	if applied != nil && onUpdate != nil {
		onUpdate(*applied)
	}
	if replay {
		r.Refresh()
	}
}

// Run drives the reconciler until ctx is cancelled: initial fetch, poll
// ticker, change-feed triggers, and resubscription on scope switches. The
// change feed is closed on teardown and on every scope change so no
// stale-scoped events leak in.
func (r *Reconciler) Run(ctx context.Context) {
	r.mu.Lock()
	r.baseCtx = ctx
	scope := r.scope
	r.mu.Unlock()

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	feed := r.openFeed(ctx, scope)
	defer closeFeed(feed)

	r.Refresh()

	for {
		var changes <-chan models.TicketChange
		if feed != nil {
			changes = feed.Changes()
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Refresh()
		case _, ok := <-changes:
			if !ok {
				feed = nil
				continue
			}
			r.Refresh()
		case <-r.scopeCh:
			r.mu.Lock()
			scope = r.scope
			r.mu.Unlock()
			closeFeed(feed)
			feed = r.openFeed(ctx, scope)
		}
	}
}

func (r *Reconciler) openFeed(ctx context.Context, scope string) ChangeFeed {
	if r.Subscribe == nil {
		return nil
	}
	feed, err := r.Subscribe(ctx, scope)
	if err != nil {
		if r.Logger != nil {
			r.Logger.LogFeed("SUBSCRIBE", fmt.Sprintf("change feed unavailable for %s, polling only: %v", scopeLabel(scope), err))
		}
		return nil
	}
	return feed
}

func closeFeed(feed ChangeFeed) {
	if feed != nil {
		_ = feed.Close()
	}
}

func scopeLabel(scope string) string {
	if scope == "" {
		return "all restaurants"
	}
	return scope
}
