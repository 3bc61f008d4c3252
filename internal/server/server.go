// Package server exposes the review orchestrator over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"pillarscope/internal/orchestrator"
	"pillarscope/internal/review"
)

// Server wires HTTP routes to the orchestrator.
type Server struct {
	orch     *orchestrator.Orchestrator
	provider orchestrator.Provider
	logger   *zap.Logger
	router   chi.Router
}

// New builds the HTTP surface. provider backs the debug environment
// endpoint and may be the same instance the orchestrator uses.
func New(orch *orchestrator.Orchestrator, provider orchestrator.Provider, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{orch: orch, provider: provider, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/reviews", s.handleStartReview)
		r.Get("/reviews/{sessionID}/status", s.handleStatus)
		r.Get("/reviews/{sessionID}/questions", s.handleQuestions)
		r.Post("/reviews/{sessionID}/answers", s.handleSubmitAnswer)
		r.Get("/reviews/{sessionID}/report", s.handleReport)
		r.Get("/environment", s.handleEnvironment)
	})
	s.router = r
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartReview(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.StartReview(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	desc, err := s.orch.ReviewStatus(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, desc)
}

func (s *Server) handleQuestions(w http.ResponseWriter, r *http.Request) {
	questions, err := s.orch.UnansweredQuestions(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"questions": questions,
		"count":     len(questions),
	})
}

type submitAnswerRequest struct {
	QuestionKey string `json:"question_key"`
	Answer      string `json:"answer"`
}

func (s *Server) handleSubmitAnswer(w http.ResponseWriter, r *http.Request) {
	var req submitAnswerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	result, err := s.orch.SubmitAnswer(r.Context(), chi.URLParam(r, "sessionID"), req.QuestionKey, req.Answer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	result, err := s.orch.FinalReport(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleEnvironment runs a one-shot collection and returns the raw
// snapshot. Debug surface: provider errors pass through as 502.
func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	snapshot, err := s.provider.Collect(r.Context())
	if err != nil {
		s.logger.Error("environment collection failed", zap.Error(err))
		s.writeJSON(w, http.StatusBadGateway, errorBody(err.Error()))
		return
	}
	s.writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, review.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody(err.Error()))
	case errors.Is(err, review.ErrNotReady):
		s.writeJSON(w, http.StatusConflict, errorBody(err.Error()))
	case errors.Is(err, review.ErrInvalidInput):
		s.writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}
