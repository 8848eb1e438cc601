package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridianhealth/bedside/internal/extractor"
)

// MeetingRecord is one persisted discharge meeting.
// Table: meetings (id, patient_id, status, transcript jsonb,
// summary, extracted_answers jsonb, created_at, updated_at).
type MeetingRecord struct {
	ID               uuid.UUID
	PatientID        string
	Status           string
	Transcript       []extractor.ConversationMessage
	Summary          string
	ExtractedAnswers map[string]string
	CreatedAt        time.Time
}

// SaveCompletedMeeting writes the final meeting artifacts. The open row for
// the patient (created by partial-answer upserts during the meeting) is
// finalized when present, otherwise a fresh row is inserted.
func (s *Store) SaveCompletedMeeting(ctx context.Context, patientID string, transcript []extractor.ConversationMessage, summary string, answers map[string]string) (uuid.UUID, error) {
	transcriptJSON, err := json.Marshal(transcript)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal transcript: %w", err)
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return uuid.Nil, fmt.Errorf("marshal answers: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return uuid.Nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var id uuid.UUID
	err = tx.QueryRow(ctx, `
		SELECT id FROM meetings
		WHERE patient_id = $1 AND status = 'in-progress'
		ORDER BY created_at DESC LIMIT 1
		FOR UPDATE`,
		patientID,
	).Scan(&id)
	if err == nil {
		_, err = tx.Exec(ctx, `
			UPDATE meetings
			SET status = 'completed',
			    transcript = $2,
			    summary = $3,
			    extracted_answers = COALESCE(extracted_answers, '{}'::jsonb) || $4,
			    updated_at = now()
			WHERE id = $1`,
			id, transcriptJSON, summary, answersJSON,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("finalize meeting: %w", err)
		}
	} else {
		id = uuid.New()
		_, err = tx.Exec(ctx, `
			INSERT INTO meetings (id, patient_id, status, transcript, summary, extracted_answers, created_at, updated_at)
			VALUES ($1, $2, 'completed', $3, $4, $5, now(), now())`,
			id, patientID, transcriptJSON, summary, answersJSON,
		)
		if err != nil {
			return uuid.Nil, fmt.Errorf("insert meeting: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return uuid.Nil, fmt.Errorf("commit tx: %w", err)
	}
	return id, nil
}

// UpsertPartialAnswers merges extracted answers into the patient's open
// meeting row mid-conversation, creating the row on first write. Scheduling
// consumers poll the reserved availability key from here before the meeting
// completes.
func (s *Store) UpsertPartialAnswers(ctx context.Context, patientID string, answers map[string]string) error {
	if len(answers) == 0 {
		return nil
	}
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE meetings
		SET extracted_answers = COALESCE(extracted_answers, '{}'::jsonb) || $2,
		    updated_at = now()
		WHERE id = (
			SELECT id FROM meetings
			WHERE patient_id = $1 AND status = 'in-progress'
			ORDER BY created_at DESC LIMIT 1
		)`,
		patientID, answersJSON,
	)
	if err != nil {
		return fmt.Errorf("update answers: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO meetings (id, patient_id, status, extracted_answers, created_at, updated_at)
		VALUES ($1, $2, 'in-progress', $3, now(), now())`,
		uuid.New(), patientID, answersJSON,
	)
	if err != nil {
		return fmt.Errorf("insert partial answers: %w", err)
	}
	return nil
}

// GetLatestMeeting returns the most recent meeting row for a patient.
func (s *Store) GetLatestMeeting(ctx context.Context, patientID string) (*MeetingRecord, error) {
	var (
		rec            MeetingRecord
		transcriptJSON []byte
		answersJSON    []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, patient_id, status, COALESCE(transcript, '[]'::jsonb),
		       COALESCE(summary, ''), COALESCE(extracted_answers, '{}'::jsonb), created_at
		FROM meetings
		WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT 1`,
		patientID,
	).Scan(&rec.ID, &rec.PatientID, &rec.Status, &transcriptJSON, &rec.Summary, &answersJSON, &rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("get meeting: %w", err)
	}
	if err := json.Unmarshal(transcriptJSON, &rec.Transcript); err != nil {
		return nil, fmt.Errorf("unmarshal transcript: %w", err)
	}
	if err := json.Unmarshal(answersJSON, &rec.ExtractedAnswers); err != nil {
		return nil, fmt.Errorf("unmarshal answers: %w", err)
	}
	return &rec, nil
}
