package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/meridianhealth/bedside/internal/meeting"
)

type Server struct {
	router   *chi.Mux
	port     int
	meetings *meeting.Manager
}

func NewServer(port int, meetings *meeting.Manager) *Server {
	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	s := &Server{
		router:   router,
		port:     port,
		meetings: meetings,
	}

	router.Get("/health", s.health)
	router.Get("/api/v1/bedside/status", s.status)

	router.Route("/api/v1/meetings/{patientID}", func(r chi.Router) {
		r.Get("/", s.getMeeting)
		r.Put("/questions", s.putQuestions)
		r.Post("/start", s.startMeeting)
		r.Post("/complete", s.completeMeeting)
		r.Post("/utterance", s.postUtterance)
	})

	return s
}

func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	slog.Info("API server starting", "addr", addr)
	return http.ListenAndServe(addr, s.router)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "bedside",
		"status":  "ready",
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
