package sse

import (
	"context"
	"sync"

	"ms-pickup/internal/feed"
)

// BoardEmitter fans reconciler snapshots out to SSE clients watching a
// restaurant's board. One subscriber list per restaurant scope; empty scope
// is the admin all-restaurants board.
type BoardEmitter struct {
	mu      sync.RWMutex
	clients map[string][]chan feed.Snapshot
}

func NewBoardEmitter() *BoardEmitter {
	return &BoardEmitter{clients: make(map[string][]chan feed.Snapshot)}
}

// Subscribe registers a client for a scope. The channel is unregistered
// when ctx is done; a slow client skips snapshots instead of blocking the
// emitter. The channel is never closed: Emit may still hold a reference to
// it after removal, and a send must land in its buffer or drop, not panic.
func (e *BoardEmitter) Subscribe(ctx context.Context, scope string) chan feed.Snapshot {
	clientChan := make(chan feed.Snapshot, 4)

	e.mu.Lock()
	e.clients[scope] = append(e.clients[scope], clientChan)
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.remove(scope, clientChan)
	}()

	return clientChan
}

// Emit broadcasts a snapshot to the scope's subscribers.
func (e *BoardEmitter) Emit(snapshot feed.Snapshot) {
	e.mu.RLock()
	clients := e.clients[snapshot.Scope]
	e.mu.RUnlock()

	for _, clientChan := range clients {
		select {
		case clientChan <- snapshot:
		default:
			// Buffer full; the client will catch up on the next snapshot.
		}
	}
}

func (e *BoardEmitter) remove(scope string, clientChan chan feed.Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	subs := e.clients[scope]
	for i, ch := range subs {
		if ch == clientChan {
			e.clients[scope] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(e.clients[scope]) == 0 {
		delete(e.clients, scope)
	}
}
