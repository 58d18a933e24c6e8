package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"ms-pickup/internal/auth"
)

// streamWriteTimeout bounds one event write. The server has no global
// WriteTimeout because the stream stays open indefinitely, so a stalled
// client is cut here instead.
const streamWriteTimeout = 10 * time.Second

// Stream is the live board: an SSE feed of reconciled snapshots for the
// caller's scope. The reconciler for the scope is started on first use; the
// client subscription is torn down when the connection drops.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.ActorFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "no session")
		return
	}
	scope, err := h.resolveScope(r, actor)
	if err != nil {
		h.writeLifecycleError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	rec := h.Boards.Ensure(scope)
	updates := h.Emitter.Subscribe(r.Context(), scope)

	// Send the current state immediately so the board is never blank while
	// waiting for the first refresh.
	if snap := rec.Snapshot(); snap.Seq > 0 {
		writeEvent(w, flusher, snap)
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap := <-updates:
			writeEvent(w, flusher, snap)
		}
	}
}

func writeEvent(w http.ResponseWriter, flusher http.Flusher, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	fmt.Fprintf(w, "event: board\ndata: %s\n\n", data)
	flusher.Flush()
	_ = rc.SetWriteDeadline(time.Time{})
}
