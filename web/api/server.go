package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nick353/Automate-sub000/internal/domain"
	"github.com/nick353/Automate-sub000/internal/notify"
	"github.com/nick353/Automate-sub000/internal/runstore"
	"github.com/nick353/Automate-sub000/internal/session"
)

// History lists recorded runs
type History interface {
	ListRuns(ctx context.Context, opts runstore.ListOptions) ([]*domain.RunRecord, error)
}

// Server is the HTTP API server for one panel session
type Server struct {
	session  *session.Session
	history  History
	addr     string
	mux      *http.ServeMux
	sseHub   *SSEHub
	upgrader websocket.Upgrader
}

// NewServer creates a new API server. history may be nil.
func NewServer(sess *session.Session, history History, addr string) *Server {
	s := &Server{
		session: sess,
		history: history,
		addr:    addr,
		mux:     http.NewServeMux(),
		sseHub:  NewSSEHub(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/status", s.statusHandler())
	s.mux.HandleFunc("/api/transcript", s.transcriptHandler())
	s.mux.HandleFunc("/api/messages", s.messageHandler())
	s.mux.HandleFunc("/api/actions/confirm", s.confirmHandler())
	s.mux.HandleFunc("/api/actions/cancel", s.cancelHandler())
	s.mux.HandleFunc("/api/runs", s.runsHandler())
	s.mux.HandleFunc("/api/analysis", s.analysisHandler())
	s.mux.HandleFunc("/api/analysis/autofix", s.autoFixHandler())
	s.mux.HandleFunc("/api/analysis/retry", s.retryHandler())
	s.mux.HandleFunc("/api/analysis/retry-suggestion", s.retrySuggestionHandler())
	s.mux.HandleFunc("/api/analysis/dismiss", s.dismissHandler())
	s.mux.HandleFunc("/api/editor/open", s.editorHandler(true))
	s.mux.HandleFunc("/api/editor/close", s.editorHandler(false))
	s.mux.HandleFunc("/api/events", s.sseHandler())
	s.mux.HandleFunc("/api/ws", s.wsHandler())
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start serves until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	stop := s.Run(ctx)
	defer stop()

	srv := &http.Server{Addr: s.addr, Handler: s.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("[api] listening on %s", s.addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Run starts the SSE hub and forwards session events to it. The returned
// function detaches the session.
func (s *Server) Run(ctx context.Context) func() {
	go s.sseHub.Run(ctx)

	events, cancelTranscript := s.session.Transcript().Subscribe()
	unsubscribe := s.session.Guide().Subscribe(func(from, to domain.WorkflowStage) {
		s.Broadcast(SSEEvent{Type: "stage", Data: map[string]string{"from": from.String(), "to": to.String()}})
	})

	go func() {
		for ev := range events {
			s.Broadcast(SSEEvent{Type: "transcript", Data: ev})
		}
	}()

	return func() {
		unsubscribe()
		cancelTranscript()
	}
}

// Broadcast sends an event to all SSE clients
func (s *Server) Broadcast(event SSEEvent) {
	s.sseHub.Broadcast(event)
}

// Send forwards a notification to SSE clients
func (s *Server) Send(n notify.Notification) error {
	s.Broadcast(SSEEvent{Type: "notification", Data: n})
	return nil
}

var _ notify.Notifier = (*Server)(nil)

func writeJSON(w http.ResponseWriter, data interface{}) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
