// Package server exposes the webhook ingestion surface and operational
// endpoints.
package server

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/vantage/config"
	"github.com/coachpo/vantage/internal/observability"
	"github.com/coachpo/vantage/internal/router"
	"github.com/coachpo/vantage/internal/schema"
)

const maxJSONBodyBytes int64 = 1 << 20 // 1 MiB

const (
	webhookPath = "/webhook"
	healthPath  = "/healthz"
)

// Dispatcher routes an authenticated signal to its target accounts.
// Satisfied by router.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, signal schema.Signal) []router.Outcome
}

// HealthReporter reports per-account connection health.
type HealthReporter interface {
	Health() []schema.HealthStatus
}

// Server is the HTTP ingestion server.
type Server struct {
	cfg        config.ServerSettings
	dispatcher Dispatcher
	health     HealthReporter
	httpServer *http.Server
}

// New constructs a Server.
func New(cfg config.ServerSettings, dispatcher Dispatcher, health HealthReporter) *Server {
	s := &Server{
		cfg:        cfg,
		dispatcher: dispatcher,
		health:     health,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+webhookPath, s.handleWebhook)
	mux.HandleFunc("GET "+healthPath, s.handleHealth)
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	observability.Log().Info("webhook server listening",
		observability.F("addr", s.cfg.Addr))
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the server's mux, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type webhookPayload struct {
	Token     string `json:"token"`
	Direction string `json:"direction"`
	Symbol    string `json:"symbol"`
	Leverage  int    `json:"leverage"`
	Source    string `json:"source"`
	Account   *int64 `json:"account,omitempty"`
}

type webhookResponse struct {
	Status   string           `json:"status"`
	SignalID string           `json:"signal_id,omitempty"`
	Outcomes []outcomePayload `json:"outcomes,omitempty"`
}

type outcomePayload struct {
	Account   int64  `json:"account"`
	Skipped   bool   `json:"skipped,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Confirmed bool   `json:"confirmed"`
	Error     string `json:"error,omitempty"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body")
		return
	}
	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "malformed payload")
		return
	}

	if s.cfg.SecretToken != "" {
		if subtle.ConstantTimeCompare([]byte(payload.Token), []byte(s.cfg.SecretToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
	}
	if !s.sourceAllowed(payload.Source) {
		writeError(w, http.StatusForbidden, "source not allowed")
		return
	}

	direction, ok := schema.ParseDirection(payload.Direction)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown direction")
		return
	}
	if strings.TrimSpace(payload.Symbol) == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	signal := schema.NewSignal(direction, payload.Symbol, payload.Leverage)
	if payload.Account != nil {
		signal = signal.WithScope(*payload.Account)
	}
	observability.Log().Info("signal accepted",
		observability.F("signal", signal.ID),
		observability.F("direction", string(signal.Direction)),
		observability.F("symbol", signal.Symbol))

	outcomes := s.dispatcher.Dispatch(r.Context(), signal)
	resp := webhookResponse{Status: "ok", SignalID: signal.ID}
	for _, o := range outcomes {
		op := outcomePayload{
			Account:   o.AccountIndex,
			Skipped:   o.Skipped,
			Reason:    o.Reason,
			Confirmed: o.Result.Confirmed,
		}
		if o.Err != nil {
			op.Error = o.Err.Error()
		}
		resp.Outcomes = append(resp.Outcomes, op)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	statuses := s.health.Health()
	healthy := true
	for _, st := range statuses {
		if !st.Connected && st.RetryCount > 0 {
			healthy = false
			break
		}
	}
	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":  healthy,
		"accounts": statuses,
	})
}

func (s *Server) sourceAllowed(source string) bool {
	if len(s.cfg.AllowedSources) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedSources {
		if strings.EqualFold(allowed, source) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}
