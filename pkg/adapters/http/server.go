package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aretw0/marginalia"
	"github.com/aretw0/marginalia/internal/logging"
	"github.com/aretw0/marginalia/pkg/domain"
	"github.com/aretw0/marginalia/pkg/locator"
	"github.com/aretw0/marginalia/pkg/script"
	"github.com/aretw0/marginalia/pkg/session"
	"github.com/aretw0/marginalia/pkg/tracking"
	"github.com/beevik/etree"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodySize bounds request bodies; documents travel inline.
const maxBodySize = 8 << 20

// Server exposes a session.Manager as a JSON API.
type Server struct {
	Manager *session.Manager
	Runner  *script.Runner
	Streams *StreamManager

	gatherer prometheus.Gatherer
	logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithRunner replaces the script runner, e.g. to use another ports.Locator.
func WithRunner(r *script.Runner) Option {
	return func(s *Server) {
		s.Runner = r
	}
}

// WithMetrics serves g on GET /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer creates a Server for mgr.
func NewServer(mgr *session.Manager, opts ...Option) *Server {
	s := &Server{
		Manager: mgr,
		Runner:  script.NewRunner(nil),
		Streams: NewStreamManager(),
		logger:  logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewHandler creates the HTTP handler for mgr.
func NewHandler(mgr *session.Manager, opts ...Option) http.Handler {
	return NewServer(mgr, opts...).Routes()
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/sessions", func(r chi.Router) {
		r.Get("/", s.ListSessions)
		r.Post("/", s.StartSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.GetSession)
			r.Delete("/", s.DeleteSession)
			r.Get("/clean", s.GetClean)
			r.Post("/fork", s.ForkSession)
			r.Post("/changes", s.ApplyChanges)
			r.Get("/changes/last", s.GetLastChange)
			r.Get("/markers", s.GetMarkers)
			r.Post("/undo", s.Undo)
			r.Post("/undo/breakpoint", s.UndoBreakpoint)
			r.Post("/undo/subselect", s.UndoSubselect)
			r.Get("/events", s.SubscribeEvents)
		})
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SessionView is the JSON form of a session.
type SessionView struct {
	ID       string `json:"id"`
	Counter  int    `json:"counter"`
	Prefix   string `json:"prefix"`
	Document string `json:"document,omitempty"`
}

// MarkerView is the JSON form of a tracked change.
type MarkerView struct {
	Step     int               `json:"step"`
	Type     domain.ChangeType `json:"type"`
	Text     string            `json:"text"`
	Context  string            `json:"context"`
	Position int               `json:"position"`
}

// StartRequest is the body of POST /sessions.
type StartRequest struct {
	ID  string `json:"id,omitempty"`
	XML string `json:"xml"`
}

// ChangesRequest is the body of POST /sessions/{id}/changes.
type ChangesRequest struct {
	Steps []map[string]any `json:"steps"`
}

// ChangesResponse reports the outcome of a script.
type ChangesResponse struct {
	Counter  int              `json:"counter"`
	Outcomes []script.Outcome `json:"outcomes"`
}

// UndoRequest is the optional body of POST /sessions/{id}/undo.
type UndoRequest struct {
	ToStep *int `json:"to_step,omitempty"`
}

// UndoResponse reports undone changes.
type UndoResponse struct {
	Counter int                 `json:"counter"`
	Undone  []domain.ChangeType `json:"undone"`
	Label   string              `json:"label,omitempty"`
	Found   bool                `json:"found,omitempty"`
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"app":     "marginalia-http",
		"version": strings.TrimSpace(marginalia.Version),
	})
}

// ListSessions handles GET /sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	ids, err := s.Manager.List(r.Context())
	if err != nil {
		s.fail(w, "list sessions", err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// StartSession handles POST /sessions.
func (s *Server) StartSession(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	sess, err := s.Manager.Start(r.Context(), body.ID, body.XML)
	if domain.IsFatal(err) {
		// Nothing was stored: the document itself is unusable.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err != nil {
		s.fail(w, "start session", err)
		return
	}
	s.logger.Info("session started", "session_id", sess.ID)
	writeJSON(w, http.StatusCreated, view(sess, false))
}

// GetSession handles GET /sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Manager.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "load session", err)
		return
	}
	writeJSON(w, http.StatusOK, view(sess, true))
}

// DeleteSession handles DELETE /sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.Manager.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, "delete session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetClean handles GET /sessions/{id}/clean, returning the document without markers.
func (s *Server) GetClean(w http.ResponseWriter, r *http.Request) {
	xml, err := s.Manager.Clean(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "clean session", err)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	io.WriteString(w, xml)
}

// ForkSession handles POST /sessions/{id}/fork. The body may carry the new id.
func (s *Server) ForkSession(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	fork, err := s.Manager.Fork(r.Context(), chi.URLParam(r, "id"), body.ID)
	if err != nil {
		s.fail(w, "fork session", err)
		return
	}
	writeJSON(w, http.StatusCreated, view(fork, false))
}

// ApplyChanges handles POST /sessions/{id}/changes. The script is applied atomically:
// if any step fails nothing is saved.
func (s *Server) ApplyChanges(w http.ResponseWriter, r *http.Request) {
	var body ChangesRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	steps, err := script.Decode(body.Steps)
	if err != nil {
		s.badRequest(w, err)
		return
	}

	var outcomes []script.Outcome
	sess, err := s.Manager.Edit(r.Context(), chi.URLParam(r, "id"), func(sess *session.Session) error {
		var err error
		outcomes, err = s.Runner.Apply(sess, steps)
		return err
	})
	if err != nil {
		s.fail(w, "apply changes", err)
		return
	}
	s.publish(sess)
	writeJSON(w, http.StatusOK, ChangesResponse{Counter: sess.Tracker.Counter(), Outcomes: outcomes})
}

// Undo handles POST /sessions/{id}/undo. Without a body it undoes the last change.
func (s *Server) Undo(w http.ResponseWriter, r *http.Request) {
	var body UndoRequest
	if err := decodeBody(r, &body); err != nil {
		s.badRequest(w, err)
		return
	}
	step := script.Step{Op: script.OpUndo}
	if body.ToStep != nil {
		step = script.Step{Op: script.OpUndoTo, To: *body.ToStep}
	}
	s.undo(w, r, step)
}

// UndoBreakpoint handles POST /sessions/{id}/undo/breakpoint.
func (s *Server) UndoBreakpoint(w http.ResponseWriter, r *http.Request) {
	s.undo(w, r, script.Step{Op: script.OpUndoBreakpoint})
}

// UndoSubselect handles POST /sessions/{id}/undo/subselect.
func (s *Server) UndoSubselect(w http.ResponseWriter, r *http.Request) {
	s.undo(w, r, script.Step{Op: script.OpUndoSubselect})
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request, step script.Step) {
	var out script.Outcome
	sess, err := s.Manager.Edit(r.Context(), chi.URLParam(r, "id"), func(sess *session.Session) error {
		outcomes, err := s.Runner.Apply(sess, []script.Step{step})
		if err != nil {
			return err
		}
		out = outcomes[0]
		return nil
	})
	if err != nil {
		s.fail(w, "undo", err)
		return
	}
	s.publish(sess)
	undone := out.Undone
	if undone == nil {
		undone = []domain.ChangeType{}
	}
	writeJSON(w, http.StatusOK, UndoResponse{
		Counter: sess.Tracker.Counter(),
		Undone:  undone,
		Label:   out.Label,
		Found:   out.Found,
	})
}

// GetLastChange handles GET /sessions/{id}/changes/last.
func (s *Server) GetLastChange(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Manager.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "load session", err)
		return
	}
	if sess.Tracker.Counter() == 0 {
		writeError(w, http.StatusNotFound, "no tracked changes")
		return
	}
	rec, err := sess.Tracker.FindLastChange(sess.Document)
	if err != nil {
		s.fail(w, "find last change", err)
		return
	}
	writeJSON(w, http.StatusOK, MarkerView{
		Step:     sess.Tracker.Counter(),
		Type:     rec.Type,
		Text:     rec.Text,
		Context:  contextPath(rec.Context),
		Position: rec.Position,
	})
}

// GetMarkers handles GET /sessions/{id}/markers.
func (s *Server) GetMarkers(w http.ResponseWriter, r *http.Request) {
	sess, err := s.Manager.Load(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, "load session", err)
		return
	}
	markers := tracking.Markers(sess.Document, sess.Tracker.Prefix())
	out := make([]MarkerView, 0, len(markers))
	for _, m := range markers {
		out = append(out, MarkerView{
			Step:     m.Step,
			Type:     m.Type,
			Text:     m.Data,
			Context:  contextPath(m.Parent),
			Position: m.Index,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) publish(sess *session.Session) {
	payload, err := json.Marshal(SessionView{ID: sess.ID, Counter: sess.Tracker.Counter(), Prefix: sess.Tracker.Prefix()})
	if err != nil {
		return
	}
	s.Streams.Broadcast(sess.ID, string(payload))
}

// fail maps domain errors to status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", "err", err)
	} else {
		s.logger.Debug(op+" rejected", "status", status, "err", err)
	}
	writeError(w, status, err.Error())
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.logger.Warn("invalid request body", "err", err)
	writeError(w, http.StatusBadRequest, err.Error())
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionExists):
		return http.StatusConflict
	case domain.IsFatal(err):
		// The session was restarted from its clean document.
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidChange),
		errors.Is(err, domain.ErrDecode),
		errors.Is(err, script.ErrInvalidScript),
		errors.Is(err, locator.ErrNotFound):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func view(sess *session.Session, withDoc bool) SessionView {
	v := SessionView{ID: sess.ID, Counter: sess.Tracker.Counter(), Prefix: sess.Tracker.Prefix()}
	if withDoc {
		v.Document, _ = sess.Document.WriteToString()
	}
	return v
}

// contextPath is the locator of a marker's parent; "/" stands for the document itself.
func contextPath(el *etree.Element) string {
	if p := locator.New().Path(el); p != "" {
		return p
	}
	return "/"
}

// decodeBody decodes JSON into v. An empty body leaves v untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
