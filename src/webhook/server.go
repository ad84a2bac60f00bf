// Package webhook receives GitHub webhook deliveries, queues runs for the
// events the workflow triggers on, and serves run status.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"relayci/src/broker"
	"relayci/src/contracts"
	"relayci/src/githubactions"
	"relayci/src/logger"
	"relayci/src/pipeline"
	"relayci/src/store"
	"relayci/src/trigger"
)

// maxPayloadBytes matches the largest payload GitHub delivers.
const maxPayloadBytes = 25 << 20

const (
	headerEvent     = "X-GitHub-Event"
	headerDelivery  = "X-GitHub-Delivery"
	headerSignature = "X-Hub-Signature-256"
)

// Server is the webhook receiver and run status API.
type Server struct {
	evaluator *trigger.Evaluator
	broker    broker.Broker
	store     store.Store
	secret    []byte
	log       logger.Logger
	router    chi.Router
}

// New creates a Server. An empty secret disables signature checks.
func New(evaluator *trigger.Evaluator, brk broker.Broker, st store.Store, secret string, log logger.Logger) *Server {
	if log == nil {
		log = logger.NewSilentLogger()
	}
	s := &Server{
		evaluator: evaluator,
		broker:    brk,
		store:     st,
		log:       log,
	}
	if secret != "" {
		s.secret = []byte(secret)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	r.Post("/webhooks/github", s.handleGitHub)
	r.Get("/runs", s.handleListRuns)
	r.Get("/runs/{runID}", s.handleGetRun)

	s.router = r
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("webhook: listen %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	s.log.Info("[Webhook] Listening on %s", listener.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook: shutdown: %w", err)
		}
		return nil
	}
}

// QueueResponse is the body returned for every accepted delivery.
type QueueResponse struct {
	Queued   bool     `json:"queued"`
	RunID    string   `json:"run_id,omitempty"`
	Event    string   `json:"event,omitempty"`
	Eligible []string `json:"eligible,omitempty"`
	Reason   string   `json:"reason,omitempty"`
}

// RunResponse is the body of GET /runs/{runID}.
type RunResponse struct {
	Run   *contracts.RunStatus   `json:"run"`
	Steps []contracts.StepResult `json:"steps"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleGitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	if s.secret != nil {
		if err := VerifySignature(s.secret, body, r.Header.Get(headerSignature)); err != nil {
			s.log.Warn("[Webhook] Delivery %s rejected: %v", r.Header.Get(headerDelivery), err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	eventName := r.Header.Get(headerEvent)
	if eventName == "ping" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	}
	if !githubactions.Supported(eventName) {
		writeJSON(w, http.StatusAccepted, QueueResponse{Reason: fmt.Sprintf("event %q is not handled", eventName)})
		return
	}

	ev, err := githubactions.ParseWebhook(eventName, body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := s.evaluator.Evaluate(ev)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if plan.Empty() {
		reason := fmt.Sprintf("no stage is eligible for %s", ev)
		if !plan.Accepted {
			reason = fmt.Sprintf("workflow does not trigger on %s", ev)
		}
		s.log.Info("[Webhook] Delivery %s: %s", r.Header.Get(headerDelivery), reason)
		writeJSON(w, http.StatusAccepted, QueueResponse{Event: ev.String(), Reason: reason})
		return
	}

	runID, err := pipeline.Submit(r.Context(), s.broker, s.store, ev)
	if err != nil {
		s.log.Error("[Webhook] Failed to queue run for %s: %v", ev, err)
		writeError(w, http.StatusInternalServerError, "failed to queue run")
		return
	}

	s.log.Info("[Webhook] Queued run %s for %s (stages: %v)", runID, ev, plan.EligibleNames())
	writeJSON(w, http.StatusAccepted, QueueResponse{
		Queued:   true,
		RunID:    runID,
		Event:    ev.String(),
		Eligible: plan.EligibleNames(),
	})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	run, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.log.Error("[Webhook] Failed to load run %s: %v", runID, err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	steps, err := s.store.GetStepResults(r.Context(), runID)
	if err != nil {
		s.log.Error("[Webhook] Failed to load steps of run %s: %v", runID, err)
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	writeJSON(w, http.StatusOK, RunResponse{Run: run, Steps: steps})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(r.Context(), limit)
	if err != nil {
		s.log.Error("[Webhook] Failed to list runs: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("[Webhook] %s %s -> %d (%s)", r.Method, r.URL.Path, ww.Status(), time.Since(start).Round(time.Millisecond))
	})
}

// VerifySignature checks a "sha256=<hex>" HMAC signature of body.
func VerifySignature(secret, body []byte, header string) error {
	sig, ok := strings.CutPrefix(header, "sha256=")
	if !ok {
		return errors.New("missing sha256 signature")
	}
	got, err := hex.DecodeString(sig)
	if err != nil {
		return fmt.Errorf("malformed signature: %w", err)
	}
	if !hmac.Equal(got, Sign(secret, body)) {
		return errors.New("signature mismatch")
	}
	return nil
}

// Sign returns the HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return mac.Sum(nil)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
