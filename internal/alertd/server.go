package alertd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gameforge/gfops/internal/audit"
	"github.com/gameforge/gfops/internal/config"
	"github.com/gameforge/gfops/internal/logging"
	"github.com/gameforge/gfops/internal/metrics"
	"github.com/gameforge/gfops/internal/notify"
)

const (
	// DefaultListen is the default bind address.
	DefaultListen = ":9465"

	// maxBodyBytes caps a webhook body. Alertmanager batches are far
	// smaller; anything bigger is not an alert.
	maxBodyBytes = 1 << 20

	// shutdownTimeout bounds the graceful drain on SIGINT/SIGTERM.
	shutdownTimeout = 10 * time.Second
)

// Server is the Alertmanager webhook receiver.
type Server struct {
	cfg         config.AlertdConfig
	environment string
	notifier    *notify.Manager
	auditor     *audit.Recorder
	remediator  *Remediator
	logger      *logging.Logger
}

// NewServer wires the receiver. The notifier should already be started.
func NewServer(cfg config.AlertdConfig, environment string, notifier *notify.Manager, auditor *audit.Recorder, remediator *Remediator, logger *logging.Logger) *Server {
	return &Server{
		cfg:         cfg,
		environment: environment,
		notifier:    notifier,
		auditor:     auditor,
		remediator:  remediator,
		logger:      logger,
	}
}

// Handler returns the receiver's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	// The method pattern makes the mux answer 405 to non-POSTs itself.
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Run serves until the context is cancelled or SIGINT/SIGTERM arrives,
// then drains in-flight requests with a deadline.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listen := s.cfg.Listen
	if listen == "" {
		listen = DefaultListen
	}

	server := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("alertd listening on %s", listen)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("alertd server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down alertd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("alertd shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}

// handleReadyz reports ready only when alerts have somewhere to go.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.notifier == nil || len(s.notifier.Providers()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, `{"status":"unavailable","reason":"no notification providers"}`)
		return
	}
	if s.auditor == nil || len(s.auditor.Sinks()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintln(w, `{"status":"unavailable","reason":"no audit sink"}`)
		return
	}
	fmt.Fprintln(w, `{"status":"ready"}`)
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var message WebhookMessage
	if err := json.NewDecoder(r.Body).Decode(&message); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.Warn("Rejected malformed webhook payload: %v", err)
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	for _, alert := range message.Alerts {
		s.handleAlert(r.Context(), alert)
	}

	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}
