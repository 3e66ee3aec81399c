// Package httpapi is the HTTP surface: webhook intake, decision endpoints,
// and operational introspection.
package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/moltlabs/tradegate/internal/admission"
	"github.com/moltlabs/tradegate/internal/approval"
	"github.com/moltlabs/tradegate/internal/broker"
	"github.com/moltlabs/tradegate/internal/intent"
	"github.com/moltlabs/tradegate/internal/observ"
	"github.com/moltlabs/tradegate/internal/regime"
)

// Config wires the server's collaborators and transport settings.
type Config struct {
	Addr          string
	WebhookSecret string
	RatePerSecond float64
	RateBurst     int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration

	Pipeline  *admission.Pipeline
	Approvals *approval.Channel
	Store     intent.Store
	Conn      *broker.ConnManager
	Regimes   regime.Source
}

// Server owns the router and the listener lifecycle.
type Server struct {
	cfg     Config
	httpSrv *http.Server
	limiter *rate.Limiter
	log     zerolog.Logger
	started time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 10
	}
	s := &Server{
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		log:     observ.Component("http"),
		started: time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.logging)

	r.HandleFunc("/webhook", s.handleWebhook).Methods(http.MethodPost)
	r.HandleFunc("/act", s.handleAct).Methods(http.MethodGet)
	r.HandleFunc("/approve", s.handleDecision(approval.OpApprove)).Methods(http.MethodPost)
	r.HandleFunc("/reject", s.handleDecision(approval.OpReject)).Methods(http.MethodPost)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/pending", s.handlePending).Methods(http.MethodGet)
	r.HandleFunc("/pause", s.requireSecret(s.handlePause)).Methods(http.MethodPost)
	r.HandleFunc("/resume", s.requireSecret(s.handleResume)).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", observ.Handler()).Methods(http.MethodGet)

	s.httpSrv = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown runs.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("listening")
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", sw.status).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

// requireSecret guards operational endpoints with the shared secret carried
// in a header, so pause and resume are not open to anyone who can reach the
// port.
func (s *Server) requireSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !secretEqual(r.Header.Get("X-Tradegate-Secret"), s.cfg.WebhookSecret) {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		next(w, r)
	}
}

func secretEqual(got, want string) bool {
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
