package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sectional_blog_writer/generator"
	"sectional_blog_writer/publisher"
	"sectional_blog_writer/store"
	"sectional_blog_writer/workflow"
)

// Generator is the remote generation client plus the style tools.
type Generator interface {
	workflow.Generator
	Rewrite(ctx context.Context, req generator.RewriteRequest) (string, error)
}

// PostReader exposes saved posts; nil disables the /posts routes.
type PostReader interface {
	GetPost(ctx context.Context, id string) (store.Post, error)
	ListPosts(ctx context.Context, limit int) ([]store.Post, error)
}

type Options struct {
	Generator      Generator
	Publisher      publisher.Publisher
	Posts          PostReader
	AllowedOrigins []string
	OutlineTimeout time.Duration
	SectionTimeout time.Duration
	RunTimeout     time.Duration
	RewriteTimeout time.Duration
	Logger         *zap.Logger
}

type Server struct {
	gen     Generator
	pub     publisher.Publisher
	posts   PostReader
	opts    Options
	store   *sessionStore
	logger  *zap.Logger
	baseCtx context.Context
	stop    context.CancelFunc
	runs    sync.WaitGroup
}

func New(opts Options) (*Server, error) {
	if opts.Generator == nil {
		return nil, errors.New("generator required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RunTimeout <= 0 {
		opts.RunTimeout = 15 * time.Minute
	}
	if opts.RewriteTimeout <= 0 {
		opts.RewriteTimeout = 60 * time.Second
	}
	ctx, stop := context.WithCancel(context.Background())
	return &Server{
		gen:     opts.Generator,
		pub:     opts.Publisher,
		posts:   opts.Posts,
		opts:    opts,
		store:   newStore(),
		logger:  opts.Logger.Named("server"),
		baseCtx: ctx,
		stop:    stop,
	}, nil
}

// Close cancels background generation runs and waits for them to return.
func (s *Server) Close() {
	s.stop()
	s.runs.Wait()
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/sessions", s.handleSessionCreate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleSessionGet).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}", s.handleSessionCancel).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/outline", s.handleOutline).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/sections/{sid}/edit", s.handleBeginEdit).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/sections/{sid}/edit", s.handleCancelEdit).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/sections/{sid}", s.handleSaveEdit).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/generate", s.handleGenerate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/sections/{sid}/regenerate", s.handleRegenerate).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/document", s.handleDocument).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/complete", s.handleComplete).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/notices", s.handleNotices).Methods(http.MethodGet)
	api.HandleFunc("/rewrite", s.handleRewrite).Methods(http.MethodPost)
	if s.posts != nil {
		api.HandleFunc("/posts", s.handlePostList).Methods(http.MethodGet)
		api.HandleFunc("/posts/{id}", s.handlePostGet).Methods(http.MethodGet)
	}

	cors := handlers.CORS(
		handlers.AllowedOrigins(s.opts.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
	)
	return cors(s.logMiddleware(r))
}

// --- Session handlers ---

type sessionResp struct {
	workflow.View
	Notices []notice `json:"notices,omitempty"`
}

type outlineReq struct {
	Context string                `json:"context"`
	URL     string                `json:"url"`
	Style   generator.StyleConfig `json:"style"`
}

type saveEditReq struct {
	Heading string `json:"heading"`
	// Points is the multi-line buffer as typed; one point per line.
	Points string `json:"points"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.posts.(interface{ Ping(context.Context) error }); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.logger.Warn("health check: storage unreachable", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "storage": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	e := s.newEntry(id)
	s.store.set(id, e)
	s.logger.Info("session created", zap.String("session_id", id))
	writeJSON(w, http.StatusCreated, s.respond(e))
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionResp{View: e.session.Snapshot()})
}

func (s *Server) handleSessionCancel(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	e.session.Cancel(r.Context())
	e.session.StartOver()
	s.store.remove(e.session.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (s *Server) handleOutline(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req outlineReq
	if !decode(w, r, &req) {
		return
	}
	_, err := e.session.GenerateOutline(r.Context(), generator.OutlineRequest{
		Context: req.Context,
		URL:     req.URL,
		Style:   req.Style,
	})
	if err != nil {
		s.writeErr(w, e, err)
		return
	}
	writeJSON(w, http.StatusOK, s.respond(e))
}

func (s *Server) handleBeginEdit(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	buf, err := e.session.BeginEdit(mux.Vars(r)["sid"])
	if err != nil {
		s.writeErr(w, e, err)
		return
	}
	writeJSON(w, http.StatusOK, buf)
}

func (s *Server) handleCancelEdit(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	e.session.CancelEdit()
	writeJSON(w, http.StatusOK, s.respond(e))
}

func (s *Server) handleSaveEdit(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	var req saveEditReq
	if !decode(w, r, &req) {
		return
	}
	if _, err := e.session.SaveEdit(mux.Vars(r)["sid"], req.Heading, req.Points); err != nil {
		s.writeErr(w, e, err)
		return
	}
	writeJSON(w, http.StatusOK, s.respond(e))
}

// handleGenerate starts the sequential runner in the background; clients poll
// the session to follow per-section status.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	run, err := e.session.StartSections()
	if err != nil {
		s.writeErr(w, e, err)
		return
	}

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		ctx, cancel := context.WithTimeout(s.baseCtx, s.opts.RunTimeout)
		defer cancel()
		if err := run(ctx); err != nil && !errors.Is(err, workflow.ErrStale) {
			s.logger.Warn("generation run ended early", zap.String("session_id", e.session.ID), zap.Error(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, s.respond(e))
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	_, err := e.session.Regenerate(r.Context(), mux.Vars(r)["sid"])
	if err != nil {
		s.writeErr(w, e, err)
		return
	}
	writeJSON(w, http.StatusOK, s.respond(e))
}

func (s *Server) handleDocument(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	doc, err := e.session.Finalize()
	if err != nil {
		s.writeErr(w, e, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	c, err := e.session.Complete(r.Context())
	if err != nil {
		s.writeErr(w, e, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"title":   c.Document.Title,
		"content": c.Document.Content,
		"post_id": c.Reference,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	e.session.StartOver()
	writeJSON(w, http.StatusOK, s.respond(e))
}

func (s *Server) handleNotices(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entry(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"notices": e.notices.drain()})
}

// --- Style tools ---

type rewriteResp struct {
	Replacement string `json:"replacement"`
}

func (s *Server) handleRewrite(w http.ResponseWriter, r *http.Request) {
	var req generator.RewriteRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.RewriteTimeout)
	defer cancel()
	out, err := s.gen.Rewrite(ctx, req)
	if err != nil {
		s.writeErr(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, rewriteResp{Replacement: out})
}

// --- Posts ---

func (s *Server) handlePostList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	posts, err := s.posts.ListPosts(r.Context(), limit)
	if err != nil {
		s.writeErr(w, nil, err)
		return
	}
	if posts == nil {
		posts = []store.Post{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"posts": posts})
}

func (s *Server) handlePostGet(w http.ResponseWriter, r *http.Request) {
	post, err := s.posts.GetPost(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErr(w, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// --- Helpers ---

func (s *Server) newEntry(id string) *entry {
	e := &entry{notices: newNoticeQueue(defaultNoticeCap)}
	timed := workflow.TimeoutGenerator{
		Generator:      s.gen,
		OutlineTimeout: s.opts.OutlineTimeout,
		SectionTimeout: s.opts.SectionTimeout,
	}
	sink := publisher.SessionSink{
		Publisher: s.pub,
		SessionID: id,
		Style:     func() generator.StyleConfig { return e.session.Style() },
		Logger:    s.logger,
	}
	e.session = workflow.NewSession(id, timed, e.notices, sink, s.logger)
	return e
}

func (s *Server) entry(w http.ResponseWriter, r *http.Request) (*entry, bool) {
	e, ok := s.store.get(mux.Vars(r)["id"])
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "session not found"})
		return nil, false
	}
	return e, true
}

func (s *Server) respond(e *entry) sessionResp {
	return sessionResp{View: e.session.Snapshot(), Notices: e.notices.drain()}
}

type errorResp struct {
	Error   string   `json:"error"`
	Notices []notice `json:"notices,omitempty"`
}

func (s *Server) writeErr(w http.ResponseWriter, e *entry, err error) {
	resp := errorResp{Error: err.Error()}
	if e != nil {
		resp.Notices = e.notices.drain()
	}
	status := statusFor(err)
	if status >= 500 {
		s.logger.Warn("request failed", zap.Int("status", status), zap.Error(err))
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrBusy),
		errors.Is(err, workflow.ErrInvalidStage),
		errors.Is(err, workflow.ErrAlreadyCompleted),
		errors.Is(err, workflow.ErrStale):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrSectionNotFound),
		errors.Is(err, store.ErrPostNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrEmptyHeading),
		errors.Is(err, workflow.ErrNoPoints),
		errors.Is(err, workflow.ErrNotEditing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, generator.ErrEmptyInput),
		errors.Is(err, generator.ErrInvalidStyle),
		errors.Is(err, generator.ErrInvalidMode):
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}
