package adapters

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"appliance-telemetry/application"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
)

const (
	StatusServerDefaultAddr            = ":8080"
	StatusServerDefaultShutdownTimeout = 5 * time.Second
)

// StatusSource is what the status endpoints report on.
type StatusSource interface {
	Status() application.ClientStatus
	DeviceIDs() []string
}

type StatusResponse struct {
	State             string   `json:"state"`
	Devices           []string `json:"devices"`
	Routed            uint64   `json:"routed"`
	Unmatched         uint64   `json:"unmatched"`
	Discarded         uint64   `json:"discarded"`
	ReconnectAttempts int      `json:"reconnect_attempts"`
}

type StatusServerParams struct {
	Source StatusSource
	Addr   string

	ShutdownTimeout time.Duration

	Log zerolog.Logger
}

func (p *StatusServerParams) EnsureDefaults() {
	if p.Addr == "" {
		p.Addr = StatusServerDefaultAddr
	}

	if p.ShutdownTimeout == 0 {
		p.ShutdownTimeout = StatusServerDefaultShutdownTimeout
	}
}

type StatusServer struct {
	params StatusServerParams

	router chi.Router

	log zerolog.Logger
}

func NewStatusServer(params StatusServerParams) (*StatusServer, error) {
	if params.Source == nil {
		return nil, fmt.Errorf("status source is nil")
	}
	params.EnsureDefaults()

	s := &StatusServer{params: params, log: params.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.HealthCheck)
	r.Get("/status", s.GetStatus)
	s.router = r

	return s, nil
}

func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (s *StatusServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.params.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.params.Addr).Msg("status server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.params.ShutdownTimeout)
	defer cancel()

	s.log.Info().Msg("status server shutting down")
	return srv.Shutdown(shutdownCtx)
}

// HealthCheck answers 200 only while the broker session is up.
func (s *StatusServer) HealthCheck(w http.ResponseWriter, r *http.Request) {
	state := s.params.Source.Status().State
	if state != application.StateConnected {
		http.Error(w, state.String(), http.StatusServiceUnavailable)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *StatusServer) GetStatus(w http.ResponseWriter, r *http.Request) {
	status := s.params.Source.Status()
	devices := s.params.Source.DeviceIDs()
	if devices == nil {
		devices = []string{}
	}

	resp := StatusResponse{
		State:             status.State.String(),
		Devices:           devices,
		Routed:            status.Router.Routed,
		Unmatched:         status.Router.Unmatched,
		Discarded:         status.Router.Discarded,
		ReconnectAttempts: status.Reconnect,
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("failed to encode status")
	}
}

var _ StatusSource = &application.TelemetryClient{}
