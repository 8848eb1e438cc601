package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/meridianhealth/bedside/internal/extractor"
)

type questionsRequest struct {
	Questions []extractor.DischargeQuestion `json:"questions"`
}

// putQuestions replaces the patient's question list. Rejected with 409 once
// the meeting is in progress.
func (s *Server) putQuestions(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req questionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	for _, q := range req.Questions {
		if q.ID == "" || strings.TrimSpace(q.Text) == "" {
			writeError(w, http.StatusBadRequest, "questions need an id and text")
			return
		}
	}

	if err := s.meetings.SetQuestions(patientID, req.Questions); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patient_id": patientID, "questions": len(req.Questions)})
}

func (s *Server) startMeeting(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	if err := s.meetings.Start(patientID); err != nil {
		if strings.Contains(err.Error(), "already in progress") {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		// Plan generation failed; the meeting reset itself and may be retried.
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"patient_id": patientID, "status": "in-progress"})
}

func (s *Server) completeMeeting(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	if err := s.meetings.Complete(patientID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"patient_id": patientID})
}

type utteranceRequest struct {
	Text string `json:"text"`
}

// postUtterance feeds recognized patient speech into the meeting. Accepted
// utterances are processed asynchronously; a 202 only means the meeting
// exists and the text was handed to it.
func (s *Server) postUtterance(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	var req utteranceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if !s.meetings.PatientMessage(patientID, req.Text) {
		writeError(w, http.StatusNotFound, "no meeting for patient")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) getMeeting(w http.ResponseWriter, r *http.Request) {
	patientID := chi.URLParam(r, "patientID")

	snap, ok := s.meetings.Snapshot(patientID)
	if !ok {
		writeError(w, http.StatusNotFound, "no meeting for patient")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
