// Package server exposes the command pipeline over HTTP. The surface is
// small on purpose: one command endpoint, task status lookup, and a
// health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"crewhq/internal/orchestrator"
	"crewhq/internal/types"
)

// commandRequest is the POST /command body.
type commandRequest struct {
	Text           string `json:"text"`
	AccountID      string `json:"account_id"`
	ConversationID string `json:"conversation_id"`
}

// commandResponse is the reply envelope on the wire.
type commandResponse struct {
	ReplyText     string   `json:"reply_text"`
	Success       bool     `json:"success"`
	UsedCrews     []string `json:"used_crews,omitempty"`
	CorrelationID string   `json:"correlation_id,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// Server hosts the HTTP API.
type Server struct {
	orch           *orchestrator.Orchestrator
	requestTimeout time.Duration
	logger         *zap.Logger
	http           *http.Server
}

// New builds the server around the orchestrator facade.
func New(addr string, orch *orchestrator.Orchestrator, requestTimeout time.Duration, logger *zap.Logger) *Server {
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orch:           orch,
		requestTimeout: requestTimeout,
		logger:         logger.Named("server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/command", s.handleCommand)
	mux.HandleFunc("/tasks/", s.handleTaskStatus)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
	}
	return s
}

// Handler exposes the mux for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe serves until the context is cancelled, then drains
// in-flight requests and background tasks.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", s.http.Addr))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.orch.Wait()
	return <-errCh
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, commandResponse{
			ReplyText: "I couldn't read that request.",
			Reason:    "bad_request",
		})
		return
	}
	if req.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, commandResponse{
			ReplyText: "account_id is required.",
			Reason:    "bad_request",
		})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	envelope := s.orch.Handle(ctx, types.Command{
		RawText:        req.Text,
		AccountID:      req.AccountID,
		ConversationID: req.ConversationID,
	})
	writeJSON(w, http.StatusOK, commandResponse{
		ReplyText:     envelope.Text,
		Success:       envelope.Success,
		UsedCrews:     envelope.UsedCrews,
		CorrelationID: envelope.CorrelationID,
		Reason:        envelope.Reason,
	})
}

func (s *Server) handleTaskStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/tasks/")
	if id == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}

	task, ok := s.orch.TaskStatus(id)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
