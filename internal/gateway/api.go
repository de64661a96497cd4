// ABOUTME: HTTP API handlers for chat enqueue, cancellation, queue status, and sessions
// ABOUTME: Streaming chat replies go out as line-delimited JSON (NDJSON)

package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/2389/switchboard/internal/queue"
	"github.com/2389/switchboard/internal/session"
	"github.com/2389/switchboard/internal/stream"
)

// ChatRequest is the JSON request body for POST /api/chat.
type ChatRequest struct {
	Message       string `json:"message"`
	AttachmentRef string `json:"attachment_ref,omitempty"`
	SessionID     string `json:"session_id,omitempty"`
	WorkspaceID   string `json:"workspace_id,omitempty"`
	Stream        bool   `json:"stream,omitempty"`
}

// ChatAccepted is the JSON response for a non-streaming enqueue.
type ChatAccepted struct {
	CommandID     string `json:"command_id"`
	SessionID     string `json:"session_id"`
	QueuePosition int    `json:"queue_position"`
}

// CancelResponse is the JSON response for DELETE on a queued command.
type CancelResponse struct {
	CommandID       string `json:"command_id"`
	Status          string `json:"status"`
	CancelRequested bool   `json:"cancel_requested,omitempty"`
	Error           string `json:"error,omitempty"`
}

// ListSessionsResponse is the JSON response for session listings.
type ListSessionsResponse struct {
	Sessions []session.View `json:"sessions"`
}

// Lines of a streaming chat response, one JSON object per line. The line
// order is always: one start, any number of chunks, then at most one
// terminal (complete or error). A cancelled command ends the stream with no
// terminal line at all.
type startLine struct {
	Type          string `json:"type"`
	CommandID     string `json:"command_id"`
	SessionID     string `json:"session_id"`
	QueuePosition int    `json:"queue_position"`
}

type chunkLine struct {
	Type     string `json:"type"`
	Sequence uint64 `json:"sequence"`
	Text     string `json:"text"`
}

type completeLine struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

type errorLine struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// handleChat handles POST /api/chat requests. It resolves the session
// (creating one if needed), enqueues the command, and either answers 202
// with the queue position or, when stream is requested, relays the
// command's text stream as NDJSON.
func (g *Gateway) handleChat(w http.ResponseWriter, r *http.Request) {
	req, err := parseChatRequest(r.Body)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	workspaceID := req.WorkspaceID
	if workspaceID == "" {
		workspaceID = g.config.Sessions.WorkspaceDefault
	}

	sess, created, err := g.registry.GetOrCreate(req.SessionID, workspaceID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrInvalidSessionID):
			g.sendJSONError(w, http.StatusBadRequest, "session_id must be a UUID")
		case errors.Is(err, session.ErrRegistryClosed):
			g.sendJSONError(w, http.StatusServiceUnavailable, "server is shutting down")
		default:
			g.logger.Error("failed to resolve session", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}
	if created {
		g.logger.Info("session created", "session_id", sess.ID, "workspace_id", sess.WorkspaceID)
	}
	sess.Touch()

	if req.Stream {
		g.streamChat(w, r, sess, req)
		return
	}

	cmd, position, err := sess.Queue().Enqueue(req.Message, req.AttachmentRef)
	if err != nil {
		g.sendEnqueueError(w, err)
		return
	}

	g.writeJSON(w, http.StatusAccepted, ChatAccepted{
		CommandID:     cmd.ID,
		SessionID:     sess.ID,
		QueuePosition: position,
	})
}

// streamChat enqueues the command with a stream follower attached and relays
// chunks as NDJSON lines until the stream terminates. Client disconnect
// detaches the follower; the command itself keeps running.
func (g *Gateway) streamChat(w http.ResponseWriter, r *http.Request, sess *session.Session, req *ChatRequest) {
	// Check streaming support before enqueueing (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	cmd, position, events, err := sess.Queue().EnqueueFollowed(r.Context(), req.Message, req.AttachmentRef)
	if err != nil {
		g.sendEnqueueError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	g.writeJSONLine(w, startLine{
		Type:          "start",
		CommandID:     cmd.ID,
		SessionID:     sess.ID,
		QueuePosition: position,
	})
	flusher.Flush()

	for ev := range events {
		switch ev.Kind {
		case stream.KindChunk:
			g.writeJSONLine(w, chunkLine{Type: "chunk", Sequence: ev.Chunk.Sequence, Text: ev.Chunk.Text})
		case stream.KindComplete:
			g.writeJSONLine(w, completeLine{Type: "complete", Text: ev.FinalText, SessionID: ev.SessionID})
		case stream.KindError:
			g.writeJSONLine(w, errorLine{Type: "error", Message: ev.Message})
		}
		flusher.Flush()
	}
	sess.Touch()
}

// sendEnqueueError maps queue errors onto HTTP statuses.
func (g *Gateway) sendEnqueueError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, queue.ErrQueueFull):
		g.sendJSONError(w, http.StatusTooManyRequests, "session queue is at capacity")
	case errors.Is(err, queue.ErrClosed):
		g.sendJSONError(w, http.StatusServiceUnavailable, "session is shutting down")
	default:
		g.logger.Error("enqueue failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

// handleCancel handles DELETE /api/sessions/{sessionID}/queue/{commandID}.
// Pending commands are removed outright (200); a processing command gets a
// cancel request it will acknowledge later (202); a command that already
// finished is a conflict (409).
func (g *Gateway) handleCancel(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	sessionID := vars["sessionID"]
	commandID := vars["commandID"]

	sess, ok := g.registry.Get(sessionID)
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.Touch()

	outcome, view, err := sess.Queue().Cancel(commandID)
	switch {
	case errors.Is(err, queue.ErrUnknownCommand):
		g.sendJSONError(w, http.StatusNotFound, "command not found")
		return
	case errors.Is(err, queue.ErrAlreadyTerminal):
		g.writeJSON(w, http.StatusConflict, CancelResponse{
			CommandID: view.ID,
			Status:    view.Status.String(),
			Error:     "command already reached a terminal status",
		})
		return
	case err != nil:
		g.logger.Error("cancel failed", "error", err, "command_id", commandID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch outcome {
	case queue.CancelledPending:
		g.writeJSON(w, http.StatusOK, CancelResponse{
			CommandID: view.ID,
			Status:    view.Status.String(),
		})
	case queue.CancelRequested:
		g.writeJSON(w, http.StatusAccepted, CancelResponse{
			CommandID:       view.ID,
			Status:          view.Status.String(),
			CancelRequested: true,
		})
	}
}

// handleQueueStatus handles GET /api/sessions/{sessionID}/queue. A pure
// read of queue state; clients poll it on a short interval rather than
// being pushed, so polling counts as activity for idle expiry.
func (g *Gateway) handleQueueStatus(w http.ResponseWriter, r *http.Request) {
	sess, ok := g.registry.Get(mux.Vars(r)["sessionID"])
	if !ok {
		g.sendJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	sess.Touch()

	g.writeJSON(w, http.StatusOK, sess.Queue().Status())
}

// handleListSessions handles GET /api/sessions.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	g.writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: g.registry.List()})
}

// handleWorkspaceSessions handles GET /api/workspaces/{workspaceID}/sessions.
func (g *Gateway) handleWorkspaceSessions(w http.ResponseWriter, r *http.Request) {
	workspaceID := mux.Vars(r)["workspaceID"]
	g.writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: g.registry.ListByWorkspace(workspaceID)})
}

// handleRemoveSession handles DELETE /api/sessions/{sessionID}. Removal
// cancels the in-flight command, discards pending ones, and disconnects
// progress subscribers.
func (g *Gateway) handleRemoveSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["sessionID"]

	if err := g.registry.Remove(sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			g.sendJSONError(w, http.StatusNotFound, "session not found")
			return
		}
		g.logger.Error("session removal failed", "error", err, "session_id", sessionID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.writeJSON(w, http.StatusOK, map[string]string{
		"session_id": sessionID,
		"status":     "removed",
	})
}

// writeJSON writes a JSON response with the given status code.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Error("failed to encode response", "error", err)
	}
}

// writeJSONLine writes one NDJSON line.
func (g *Gateway) writeJSONLine(w io.Writer, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		g.logger.Error("failed to marshal stream line", "error", err)
		return
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		g.logger.Debug("stream write failed", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// parseChatRequest parses and validates a ChatRequest from the given reader.
// Returns an error if the JSON is invalid or the message is empty.
func parseChatRequest(r io.Reader) (*ChatRequest, error) {
	var req ChatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return nil, errors.New("invalid JSON body")
	}

	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}

	return &req, nil
}

// parseLimit reads a positive integer "limit" query parameter, returning the
// fallback when absent.
func parseLimit(r *http.Request, fallback int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return n, nil
}
