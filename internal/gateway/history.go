// ABOUTME: Session history endpoint reading terminal commands from the transcript store
// ABOUTME: Renders JSON by default or HTML with result markdown via goldmark

package gateway

import (
	"bytes"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/yuin/goldmark"

	"github.com/2389/switchboard/internal/store"
)

// defaultHistoryLimit caps transcripts returned when the client names none.
const defaultHistoryLimit = 50

// HistoryResponse is the JSON response for GET /api/sessions/{id}/history.
type HistoryResponse struct {
	SessionID   string             `json:"session_id"`
	Transcripts []store.Transcript `json:"transcripts"`
}

// handleSessionHistory handles GET /api/sessions/{sessionID}/history.
// History outlives live sessions: an expired session still answers here as
// long as the store holds its terminal commands. Without a store the
// endpoint does not exist in any useful sense, so it 404s.
func (g *Gateway) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	if g.store == nil {
		g.sendJSONError(w, http.StatusNotFound, "history is disabled on this server")
		return
	}

	sessionID := mux.Vars(r)["sessionID"]

	limit, err := parseLimit(r, defaultHistoryLimit)
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	transcripts, err := g.store.ListBySession(r.Context(), sessionID, limit)
	if err != nil {
		g.logger.Error("history query failed", "error", err, "session_id", sessionID)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	switch format := r.URL.Query().Get("format"); format {
	case "", "json":
		g.writeJSON(w, http.StatusOK, HistoryResponse{
			SessionID:   sessionID,
			Transcripts: transcripts,
		})
	case "html":
		g.renderHistoryHTML(w, sessionID, transcripts)
	default:
		g.sendJSONError(w, http.StatusBadRequest, "format must be json or html")
	}
}

// historyEntry is one transcript prepared for the HTML template.
type historyEntry struct {
	Seq           uint64
	Message       string
	Status        string
	FailureReason string
	FinishedAt    string
	ResultHTML    template.HTML
}

var historyTemplate = template.Must(template.New("history").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Session {{.SessionID}}</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 48rem; margin: 2rem auto; padding: 0 1rem; }
section { border: 1px solid #ddd; border-radius: 6px; padding: 0.75rem 1rem; margin-bottom: 1rem; }
header { display: flex; gap: 1rem; color: #666; font-size: 0.85rem; margin-bottom: 0.5rem; }
.status-failed { border-color: #c0392b; }
.status-cancelled { border-color: #e67e22; }
.message { font-weight: 600; }
.failure { color: #c0392b; }
</style>
</head>
<body>
<h1>Session {{.SessionID}}</h1>
{{if not .Entries}}<p>No recorded commands.</p>{{end}}
{{range .Entries}}
<section class="status-{{.Status}}">
<header><span>#{{.Seq}}</span><span>{{.Status}}</span><span>{{.FinishedAt}}</span></header>
<p class="message">{{.Message}}</p>
{{if .ResultHTML}}<div class="result">{{.ResultHTML}}</div>{{end}}
{{if .FailureReason}}<p class="failure">{{.FailureReason}}</p>{{end}}
</section>
{{end}}
</body>
</html>
`))

// renderHistoryHTML renders transcripts as a standalone HTML page, passing
// each result through the markdown renderer.
func (g *Gateway) renderHistoryHTML(w http.ResponseWriter, sessionID string, transcripts []store.Transcript) {
	entries := make([]historyEntry, 0, len(transcripts))
	for _, tr := range transcripts {
		entry := historyEntry{
			Seq:           tr.Seq,
			Message:       tr.Message,
			Status:        tr.Status,
			FailureReason: tr.FailureReason,
		}
		if tr.FinishedAt != nil {
			entry.FinishedAt = tr.FinishedAt.Format(time.RFC3339)
		}
		if tr.Result != "" {
			var htmlBuf bytes.Buffer
			if err := goldmark.Convert([]byte(tr.Result), &htmlBuf); err != nil {
				g.logger.Error("failed to convert markdown", "error", err, "command_id", tr.CommandID)
				htmlBuf.Reset()
				htmlBuf.WriteString("<p>Failed to render result.</p>")
			}
			entry.ResultHTML = template.HTML(htmlBuf.String())
		}
		entries = append(entries, entry)
	}

	data := struct {
		SessionID string
		Entries   []historyEntry
	}{
		SessionID: sessionID,
		Entries:   entries,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := historyTemplate.Execute(w, data); err != nil {
		g.logger.Error("failed to render history", "error", err)
	}
}
