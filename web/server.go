// Package web serves the browser UI and the JSON/SSE API in front of the
// message store and the radio relay.
package web

import (
	"context"
	"embed"
	"errors"
	"io/fs"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"meshweb/device"
	"meshweb/feed"
	"meshweb/models"
	"meshweb/storage"
)

//go:embed static
var staticFiles embed.FS

const (
	// MessagesPerPage matches the feed window rendered by the client.
	MessagesPerPage = 25
	// DefaultStreamKeepAlive is the SSE comment interval that keeps
	// intermediaries from timing out idle streams.
	DefaultStreamKeepAlive = 15 * time.Second
)

// Submitter sends and records one outbound message.
type Submitter interface {
	Submit(ctx context.Context, content string, receiver *string) (*models.Message, error)
}

// LinkStatus exposes the radio link snapshot for the status endpoint.
type LinkStatus interface {
	Status() device.Status
	NodeID() string
}

// Options configures a Server.
type Options struct {
	Store     *storage.Store
	Submitter Submitter
	Link      LinkStatus
	Hub       *feed.Hub
	Logger    zerolog.Logger

	// StreamKeepAlive overrides the SSE comment interval, used by tests.
	StreamKeepAlive time.Duration
}

// Server is the HTTP front end.
type Server struct {
	store     *storage.Store
	submitter Submitter
	link      LinkStatus
	hub       *feed.Hub
	logger    zerolog.Logger

	streamKeepAlive time.Duration

	router *mux.Router
	http   *http.Server
}

// New builds the server and its routes.
func New(opts Options) *Server {
	keepAlive := opts.StreamKeepAlive
	if keepAlive <= 0 {
		keepAlive = DefaultStreamKeepAlive
	}

	s := &Server{
		store:           opts.Store,
		submitter:       opts.Submitter,
		link:            opts.Link,
		hub:             opts.Hub,
		logger:          opts.Logger.With().Str("component", "web").Logger(),
		streamKeepAlive: keepAlive,
	}

	r := mux.NewRouter()
	r.Use(s.logRequests)
	r.HandleFunc("/api/messages", s.handleSubmitMessage).Methods("POST")
	r.HandleFunc("/api/messages", s.handleListMessages).Methods("GET")
	r.HandleFunc("/api/messages/stream", s.handleStream).Methods("GET")
	r.HandleFunc("/api/contacts", s.handleListContacts).Methods("GET")
	r.HandleFunc("/api/status", s.handleStatus).Methods("GET")

	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		// The embedded tree is fixed at build time; a missing static dir
		// is a packaging bug.
		panic(err)
	}
	r.PathPrefix("/").Handler(http.FileServer(http.FS(static))).Methods("GET")

	s.router = r
	return s
}

// Handler returns the root handler, used directly by tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Flush passes through so the SSE handler keeps working behind the logger.
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(recorder, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
