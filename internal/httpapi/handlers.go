package httpapi

import (
	"encoding/json"
	"errors"
	"html"
	"net/http"

	"supportbot/internal/ingestfrontend"
	"supportbot/internal/model"
	"supportbot/internal/storage"
)

var errUnauthorizedGroup = errors.New("history token does not authorize this group")

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	caseID := r.PathValue("id")
	c, err := s.store.GetCase(ctx, caseID)
	if err == storage.ErrNotFound {
		respondError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(renderCaseHTML(c)))
}

func renderCaseHTML(c model.Case) string {
	evidence := ""
	for _, id := range c.EvidenceIDs {
		evidence += "<li>" + html.EscapeString(id) + "</li>"
	}
	tags := ""
	for _, t := range c.Tags {
		tags += "<li>" + html.EscapeString(t) + "</li>"
	}
	return "<html><body>" +
		"<h1>" + html.EscapeString(c.ProblemTitle) + "</h1>" +
		"<p><strong>Status:</strong> " + html.EscapeString(string(c.Status)) + "</p>" +
		"<p>" + html.EscapeString(c.ProblemSummary) + "</p>" +
		"<h2>Solution</h2><p>" + html.EscapeString(c.SolutionSummary) + "</p>" +
		"<h2>Tags</h2><ul>" + tags + "</ul>" +
		"<h2>Evidence</h2><ul>" + evidence + "</ul>" +
		"</body></html>"
}

type historyStartRequest struct {
	Token   string `json:"token"`
	GroupID string `json:"group_id"`
}

// handleHistoryStart authorises a bulk history ingest via a single-use
// HistoryToken before delegating to history bootstrap (spec.md §6:
// "history bootstrap is started by a token-authenticated POST that
// includes the HistoryToken").
func (s *Server) handleHistoryStart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req historyStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	token, err := s.store.ConsumeHistoryToken(ctx, req.Token)
	if err != nil {
		respondError(w, http.StatusUnauthorized, err)
		return
	}
	groupID := req.GroupID
	if groupID == "" {
		groupID = token.GroupID
	}
	if groupID != token.GroupID {
		respondError(w, http.StatusForbidden, errUnauthorizedGroup)
		return
	}
	if err := s.history.Start(ctx, groupID); err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"started": true, "group_id": groupID})
}

// handleIngest is the webhook seam a messaging transport adapter would
// call for each inbound chat event; see MessageIngester.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var msg ingestfrontend.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		respondError(w, http.StatusBadRequest, err)
		return
	}
	if msg.MessageID == "" || msg.GroupID == "" {
		respondError(w, http.StatusBadRequest, errors.New("message_id and group_id are required"))
		return
	}
	inserted, err := s.ingest.Ingest(ctx, msg)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]any{"inserted": inserted})
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, map[string]any{"error": err.Error()})
}
