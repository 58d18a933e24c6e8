package feed

import (
	"context"
	"sync"
)

// Manager runs one reconciler per watched scope, created lazily when the
// first board client for that scope arrives. Reconcilers live until the
// server context ends.
type Manager struct {
	ctx   context.Context
	build func() *Reconciler

	mu   sync.Mutex
	recs map[string]*Reconciler
}

func NewManager(ctx context.Context, build func() *Reconciler) *Manager {
	return &Manager{
		ctx:   ctx,
		build: build,
		recs:  make(map[string]*Reconciler),
	}
}

// Ensure returns the running reconciler for a scope, starting it on first
// use.
func (m *Manager) Ensure(scope string) *Reconciler {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.recs[scope]; ok {
		return rec
	}
	rec := m.build()
	rec.SetScope(scope)
	m.recs[scope] = rec
	go rec.Run(m.ctx)
	return rec
}
