package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/coder/websocket"

	"github.com/sylvanops/cogate/internal/workflow"
)

// handleWorkflowFeedback streams an execution's StepFeedback events over a
// WebSocket, one JSON frame per event. The stream closes normally when the
// execution finishes and its buffered events are drained.
func (s *Server) handleWorkflowFeedback(w http.ResponseWriter, r *http.Request) {
	x, err := s.cfg.Engine.Execution(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream aborted")

	events, unsubscribe := x.Subscribe()
	defer unsubscribe()

	ctx := r.Context()
	for {
		select {
		case fb, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			if err := writeFeedback(ctx, conn, fb); err != nil {
				return
			}
		case <-ctx.Done():
			return
		case <-x.Done():
			// Drain what the hub already buffered, then close cleanly.
			for {
				select {
				case fb, ok := <-events:
					if !ok {
						conn.Close(websocket.StatusNormalClosure, "done")
						return
					}
					if err := writeFeedback(ctx, conn, fb); err != nil {
						return
					}
				default:
					conn.Close(websocket.StatusNormalClosure, "done")
					return
				}
			}
		}
	}
}

func writeFeedback(ctx context.Context, conn *websocket.Conn, fb workflow.StepFeedback) error {
	data, err := json.Marshal(fb)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}
