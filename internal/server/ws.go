package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tbleier/fabelwerk/pkg/fault"
)

// wsWriteTimeout bounds a single status push to a slow client.
const wsWriteTimeout = 5 * time.Second

// handleStatusWS streams job state changes over a websocket. The current
// snapshot is sent immediately, every later change as it happens, and the
// connection closes normally once the job reaches a terminal state.
func (s *Server) handleStatusWS(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	updates, cancel, err := s.orch.Watch(id)
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Debug("websocket accept failed", "story", id, "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusGoingAway, "client context done")
			return
		case _, ok := <-updates:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "job finished")
				return
			}

			// Re-resolve the full status so preview and media links ride
			// along with the state change.
			st, err := s.orch.Status(ctx, id)
			if err != nil {
				// The job can expire between the snapshot and the lookup.
				if errors.Is(err, fault.ErrNotFound) {
					conn.Close(websocket.StatusNormalClosure, "job expired")
					return
				}
				conn.Close(websocket.StatusInternalError, "status lookup failed")
				return
			}

			wctx, wcancel := context.WithTimeout(ctx, wsWriteTimeout)
			err = wsjson.Write(wctx, conn, s.statusView(st))
			wcancel()
			if err != nil {
				slog.Debug("websocket write failed", "story", id, "error", err)
				return
			}
		}
	}
}
