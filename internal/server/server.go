// Package server implements the HTTP server and routing for caderneta.
package server

import (
	"context"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/banux/caderneta/internal/album"
	"github.com/banux/caderneta/internal/app"
	"github.com/banux/caderneta/internal/gesture"
	"github.com/banux/caderneta/internal/importer"
)

// Album is the application state the server drives. *app.Controller
// implements it.
type Album interface {
	View() app.PageView
	Viewer() app.ViewerView
	Version() uint64
	Wait(ctx context.Context, since uint64) (uint64, error)
	Image(i int) (album.Sticker, error)
	JumpTo(page int)
	TurnPage(ctx context.Context, forward bool) (bool, error)
	Dispatch(ctx context.Context, cmd gesture.Command) error
	HandleInput(ev gesture.Event) error
	ImportSingle(ctx context.Context, target int, raw []byte) (importer.SingleResult, error)
	ImportPending(ctx context.Context, raw []byte) (importer.SingleResult, error)
	ImportBatch(ctx context.Context, files []importer.File) (importer.BatchResult, error)
	Reset(ctx context.Context) error
}

// Options holds optional configuration for the Server.
type Options struct {
	// Password is the shared password for form-based session authentication.
	// If empty, authentication is disabled (useful for development).
	Password string

	// StaticFS is the filesystem containing the frontend static assets.
	// If nil, the frontend is not served.
	StaticFS fs.FS

	// Usage reports storage consumption for /api/storage. Optional.
	Usage album.Usage

	// LongPoll bounds how long /api/version waits for a change.
	// Zero means 25 seconds.
	LongPoll time.Duration
}

// Server is the HTTP server for the sticker album.
type Server struct {
	router   *mux.Router
	album    Album
	sessions *sessionStore
	opts     Options
	logger   zerolog.Logger
}

// New creates and configures a new Server over a.
// If opts.Password is non-empty, every endpoint except /health, /login and
// /logout needs a session cookie, or Basic credentials on /api/ routes.
// If opts.StaticFS is non-nil, the frontend is served at /.
func New(a Album, opts Options) *Server {
	if opts.LongPoll <= 0 {
		opts.LongPoll = 25 * time.Second
	}
	s := &Server{
		router:   mux.NewRouter(),
		album:    a,
		sessions: newSessionStore(albumTTL),
		opts:     opts,
		logger:   zerolog.Nop(),
	}
	s.registerRoutes()
	return s
}

// SetLogger sets the logger for request logging.
func (s *Server) SetLogger(logger zerolog.Logger) {
	s.logger = logger
}

// ServeHTTP implements http.Handler, delegating to the mux router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// registerRoutes sets up all endpoint routes.
func (s *Server) registerRoutes() {
	r := s.router
	r.Use(s.accessLog)
	auth := authMiddleware(s.opts.Password, s.sessions)

	// Always-public endpoints (no auth required)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPage).Methods(http.MethodGet)
	r.HandleFunc("/login", s.handleLoginPost).Methods(http.MethodPost)
	r.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost, http.MethodGet)

	// All other routes are wrapped with the auth middleware.
	protected := r.NewRoute().Subrouter()
	protected.Use(auth)

	// Page view and change notification
	protected.HandleFunc("/api/album", s.handleAlbum).Methods(http.MethodGet)
	protected.HandleFunc("/api/version", s.handleVersion).Methods(http.MethodGet)
	protected.HandleFunc("/api/storage", s.handleStorage).Methods(http.MethodGet)

	// Slots
	protected.HandleFunc("/api/slots/pending", s.handleImportPending).Methods(http.MethodPost)
	protected.HandleFunc("/api/slots/{index:[0-9]+}/image", s.handleImage).Methods(http.MethodGet)
	protected.HandleFunc("/api/slots/{index:[0-9]+}", s.handleImportSingle).Methods(http.MethodPost)
	protected.HandleFunc("/api/slots/{index:[0-9]+}", s.handleRemove).Methods(http.MethodDelete)

	// Batch import and reset
	protected.HandleFunc("/api/import", s.handleImportBatch).Methods(http.MethodPost)
	protected.HandleFunc("/api/reset", s.handleReset).Methods(http.MethodPost)

	// Pagination
	protected.HandleFunc("/api/page/{dir:next|prev}", s.handleTurnPage).Methods(http.MethodPost)

	// Viewer
	protected.HandleFunc("/api/viewer", s.handleViewer).Methods(http.MethodGet)
	protected.HandleFunc("/api/viewer/open/{index:[0-9]+}", s.handleViewerOpen).Methods(http.MethodPost)
	protected.HandleFunc("/api/viewer/{action:next|prev|close}", s.handleViewerAction).Methods(http.MethodPost)

	// Raw input events (taps, swipes, keys)
	protected.HandleFunc("/api/input", s.handleInput).Methods(http.MethodPost)

	// Frontend static assets – serves index.html at / and any static files.
	// When StaticFS is nil (e.g. in tests), a catch-all 404 handler is
	// registered so that the auth middleware still runs for all paths.
	if s.opts.StaticFS != nil {
		fileServer := http.FileServer(http.FS(s.opts.StaticFS))
		protected.PathPrefix("/").Handler(fileServer)
	} else {
		protected.PathPrefix("/").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// accessLog logs one line per request at debug level.
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}
