// Package httpapi is the operational HTTP surface (spec.md §6):
// liveness, a case-with-evidence HTML view, and a token-authenticated
// endpoint to kick off history bootstrap.
package httpapi

import (
	"context"
	"net/http"

	"supportbot/internal/ingestfrontend"
	"supportbot/internal/storage"
)

// HistoryStarter is the narrow seam into history bootstrap the HTTP
// layer needs — starting a run without owning its implementation.
type HistoryStarter interface {
	Start(ctx context.Context, groupID string) error
}

// MessageIngester is the narrow seam into the ingestion front-end —
// the bridge between an inbound-event webhook and C5's persist+enqueue
// logic. The messaging transport that calls this endpoint is out of
// scope; this is simply where it would hand events off.
type MessageIngester interface {
	Ingest(ctx context.Context, msg ingestfrontend.InboundMessage) (inserted bool, err error)
}

// Server exposes the operational HTTP surface.
type Server struct {
	store   storage.Storage
	history HistoryStarter
	ingest  MessageIngester
	mux     *http.ServeMux
}

func NewServer(store storage.Storage, history HistoryStarter, ingest MessageIngester) *Server {
	s := &Server{store: store, history: history, ingest: ingest, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// ServeHTTP satisfies http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /case/{id}", s.handleGetCase)
	s.mux.HandleFunc("POST /history/start", s.handleHistoryStart)
	s.mux.HandleFunc("POST /ingest", s.handleIngest)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
