package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/meridianhealth/bedside/internal/extractor"
)

// Client talks to the meeting planning service: plan generation, contextual
// reactive replies, and final summarization.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 60 * time.Second},
		logger:  logger,
	}
}

type planRequest struct {
	PatientID       string                        `json:"patient_id"`
	CustomQuestions []extractor.DischargeQuestion `json:"custom_questions"`
}

type planResponse struct {
	PatientID string                       `json:"patient_id"`
	Plan      []extractor.ConversationStep `json:"plan"`
}

// GeneratePlan requests a conversation plan for the patient.
func (c *Client) GeneratePlan(ctx context.Context, patientID string, questions []extractor.DischargeQuestion) ([]extractor.ConversationStep, error) {
	var resp planResponse
	if err := c.post(ctx, "/plan", planRequest{PatientID: patientID, CustomQuestions: questions}, &resp); err != nil {
		return nil, fmt.Errorf("generate plan: %w", err)
	}
	if len(resp.Plan) == 0 {
		return nil, fmt.Errorf("generate plan: empty plan for patient %s", patientID)
	}
	return resp.Plan, nil
}

type reactRequest struct {
	PatientID          string                          `json:"patient_id"`
	Transcript         []extractor.ConversationMessage `json:"transcript"`
	LastPatientMessage string                          `json:"last_patient_message"`
	ContextStep        string                          `json:"context_step,omitempty"`
}

// Reaction is the planning service's contextual reply to the latest patient
// message. FollowUpNeeded means the current question still needs an answer.
type Reaction struct {
	Reply          string `json:"reply"`
	FollowUpNeeded bool   `json:"follow_up_needed"`
}

// React requests a brief acknowledgment (and possibly a clarifying follow-up)
// for the patient's last message. Best-effort enrichment: callers advance the
// conversation normally when it fails.
func (c *Client) React(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, lastPatientMessage, contextStep string) (Reaction, error) {
	// Only the tail carries useful context, matching the planner's own window.
	if len(transcript) > 12 {
		transcript = transcript[len(transcript)-12:]
	}
	var resp Reaction
	err := c.post(ctx, "/react", reactRequest{
		PatientID:          patientID,
		Transcript:         transcript,
		LastPatientMessage: lastPatientMessage,
		ContextStep:        contextStep,
	}, &resp)
	if err != nil {
		return Reaction{}, fmt.Errorf("reactive reply: %w", err)
	}
	return resp, nil
}

type summarizeRequest struct {
	PatientID  string                          `json:"patient_id"`
	Transcript []extractor.ConversationMessage `json:"transcript"`
	Questions  []extractor.DischargeQuestion   `json:"questions"`
}

// Summary is the final meeting summary with authoritative extracted answers.
type Summary struct {
	Summary          string            `json:"summary"`
	ExtractedAnswers map[string]string `json:"extracted_answers"`
}

// Summarize requests the end-of-meeting summary and answer extraction.
func (c *Client) Summarize(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, questions []extractor.DischargeQuestion) (Summary, error) {
	var resp Summary
	err := c.post(ctx, "/summarize", summarizeRequest{
		PatientID:  patientID,
		Transcript: transcript,
		Questions:  questions,
	}, &resp)
	if err != nil {
		return Summary{}, fmt.Errorf("summarize meeting: %w", err)
	}
	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("call planner: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("planner error %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
