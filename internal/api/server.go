// Package api is the intake HTTP surface: the thin, unauthenticated-by-default
// collaborator that accepts finished call audio and metadata from
// trunk-recorder's upload script, SDRTrunk's rdio-scanner-compatible
// broadcast feature, or a direct API caller, stages the audio in blob
// storage, and publishes a transcription job onto the Queue Broker. It
// does not itself persist calls, run transcription, or serve search —
// those are the Worker Runtime's and the call store's jobs.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/callscribe/internal/blobstore"
	"github.com/snarg/callscribe/internal/broker"
)

// Options configures a Server.
type Options struct {
	Blobs         blobstore.Store
	Broker        broker.Broker
	MinCallLength float64

	CORSOrigins  []string
	RateRPS      float64
	RateBurst    int
	MaxBodyBytes int64

	Log zerolog.Logger
}

// Server is the intake HTTP surface.
type Server struct {
	router chi.Router
	blobs  blobstore.Store
	broker broker.Broker
	tasks  *TaskStore

	minCallLength float64
	log           zerolog.Logger
}

// New builds a Server with its routes and middleware chain wired.
func New(opts Options) *Server {
	s := &Server{
		blobs:         opts.Blobs,
		broker:        opts.Broker,
		tasks:         NewTaskStore(),
		minCallLength: opts.MinCallLength,
		log:           opts.Log.With().Str("component", "intake").Logger(),
	}

	rateRPS := opts.RateRPS
	if rateRPS <= 0 {
		rateRPS = 20
	}
	rateBurst := opts.RateBurst
	if rateBurst <= 0 {
		rateBurst = 40
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 64 << 20 // 64 MiB, generous for a single call's audio
	}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(s.log))
	r.Use(Recoverer)
	r.Use(CORSWithOrigins(opts.CORSOrigins))
	r.Use(RateLimiter(rateRPS, rateBurst))
	r.Use(MaxBodySize(maxBody))

	r.Post("/calls", s.handleCalls)
	r.Post("/api/call-upload", s.handleCallUpload)
	r.Post("/tasks", s.handleEphemeralTask)
	r.Get("/tasks/{id}", s.handleGetTask)

	s.router = r
	return s
}

// Handler returns the server's http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts the HTTP server and blocks until the listener fails.
func (s *Server) Run(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  90 * time.Second,
	}
	s.log.Info().Str("addr", addr).Msg("intake HTTP server listening")
	return srv.ListenAndServe()
}
