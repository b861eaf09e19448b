package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"weekcal/internal/ai"
	"weekcal/internal/api"
	"weekcal/internal/config"
	appLog "weekcal/internal/log"
	"weekcal/internal/refresh"
	"weekcal/internal/session"
	"weekcal/internal/store"
	"weekcal/internal/uistate"
)

// Backend is the part of the REST client the handlers call directly.
// AI calls go through ai.Service.
type Backend interface {
	Login(ctx context.Context, email, password string) error
	Logout(ctx context.Context) (string, error)
	Register(ctx context.Context, r api.RegisterRequest) (string, error)
	DeleteSubSchedule(ctx context.Context, id, title string) error
}

// Deps are the components a Server serves. Backend, AI, Refresher and
// PreviewPath may be left empty; the matching endpoints then answer 503
// or 404.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	UI        *uistate.UI
	Session   *session.Session
	Backend   Backend
	AI        *ai.Service
	Refresher *refresh.Refresher
	// PreviewPath is the PNG served at /preview.png.
	PreviewPath string
	// Now defaults to the store's clock.
	Now func() time.Time
}

// Server provides the HTTP API and the rendered week page.
type Server struct {
	cfg   *config.Config
	debug bool
	mux   *http.ServeMux
	loc   *time.Location

	store       *store.Store
	ui          *uistate.UI
	sess        *session.Session
	backend     Backend
	ai          *ai.Service
	refresher   *refresh.Refresher
	previewPath string
	now         func() time.Time

	// The AI draft lives here between generate and accept.
	draftMu sync.Mutex
	draft   *aiDraft
}

// NewServer constructs a new Server.
func NewServer(d Deps, debug bool) *Server {
	cfg := d.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Server{
		cfg:         cfg,
		debug:       debug,
		mux:         http.NewServeMux(),
		loc:         resolveLocationOrLocal(cfg.Timezone),
		store:       d.Store,
		ui:          d.UI,
		sess:        d.Session,
		backend:     d.Backend,
		ai:          d.AI,
		refresher:   d.Refresher,
		previewPath: d.PreviewPath,
		now:         d.Now,
	}
	if s.now == nil {
		s.now = d.Store.Now
	}
	if s.ui == nil {
		s.ui = uistate.New(s.now().In(s.loc))
	}
	if s.sess == nil {
		s.sess = session.New()
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty credentials disable auth.
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="weekcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves s on cfg.Listen until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves s on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+ln.Addr().String(), "debug", s.debug)
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	appLog.Info("shutting down HTTP server")
	return srv.Shutdown(shutdownCtx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	s.mux.HandleFunc("GET /week", s.handleWeekPage)
	s.mux.HandleFunc("GET /{$}", s.handleWeekPage)
	s.mux.HandleFunc("GET /api/week", s.handleWeek)

	s.mux.HandleFunc("GET /api/main-schedules", s.handleListMainSchedules)
	s.mux.HandleFunc("POST /api/main-schedules", s.handleAddMainSchedule)
	s.mux.HandleFunc("GET /api/main-schedules/selectable", s.handleSelectableMainSchedules)
	s.mux.HandleFunc("PATCH /api/main-schedules/{id}", s.handleUpdateMainSchedule)
	s.mux.HandleFunc("DELETE /api/main-schedules/{id}", s.handleDeleteMainSchedule)

	s.mux.HandleFunc("GET /api/sub-schedules", s.handleListSubSchedules)
	s.mux.HandleFunc("GET /api/sub-schedules/{id}", s.handleGetSubSchedule)
	s.mux.HandleFunc("PUT /api/sub-schedules", s.handleUpsertSubSchedule)
	s.mux.HandleFunc("DELETE /api/sub-schedules/{id}", s.handleDeleteSubSchedule)

	s.mux.HandleFunc("DELETE /api/state", s.handleReset)

	s.mux.HandleFunc("GET /api/selection", s.handleGetSelection)
	s.mux.HandleFunc("POST /api/selection", s.handleSetSelection)
	s.mux.HandleFunc("POST /api/show-past/toggle", s.handleToggleShowPast)

	s.mux.HandleFunc("GET /api/ui", s.handleUI)
	s.mux.HandleFunc("GET /api/colors", s.handleColors)
	s.mux.HandleFunc("POST /api/ui/{action}", s.handleUIAction)

	s.mux.HandleFunc("GET /api/session", s.handleSessionStatus)
	s.mux.HandleFunc("POST /api/session/login", s.handleLogin)
	s.mux.HandleFunc("POST /api/session/logout", s.handleLogout)
	s.mux.HandleFunc("POST /api/session/register", s.handleRegister)

	s.mux.HandleFunc("GET /api/ai/draft", s.handleAIDraft)
	s.mux.HandleFunc("POST /api/ai/generate", s.handleAIGenerate)
	s.mux.HandleFunc("POST /api/ai/rerequest", s.handleAIReRequest)
	s.mux.HandleFunc("POST /api/ai/recolor", s.handleAIRecolor)
	s.mux.HandleFunc("POST /api/ai/accept", s.handleAIAccept)
	s.mux.HandleFunc("POST /api/ai/transcribe", s.handleAITranscribe)

	s.mux.HandleFunc("GET /api/calendar.ics", s.handleExportICS)
	s.mux.HandleFunc("POST /api/import/ics", s.handleImportICS)

	s.mux.HandleFunc("GET /api/refresh", s.handleRefreshStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePreview serves the last captured PNG of the week page.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	if s.previewPath == "" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, s.previewPath)
}

// handleReset wipes persisted schedules back to the seed goals and drops
// any pending AI draft.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Reset(r.Context()); err != nil {
		writeFailure(w, "reset", err)
		return
	}
	s.setDraft(nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshStatus(w http.ResponseWriter, _ *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.refresher.Last())
}

// handleRefresh runs a refresh synchronously and returns its report.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if s.refresher == nil {
		writeError(w, http.StatusServiceUnavailable, "refresh is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.refresher.RunOnce(r.Context()))
}

func (s *Server) clock() time.Time {
	return s.now().In(s.loc)
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", name)
		return time.Local
	}
	return loc
}
