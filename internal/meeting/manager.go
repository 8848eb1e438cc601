package meeting

import (
	"log/slog"
	"sync"
	"time"

	"github.com/meridianhealth/bedside/internal/bridge"
	"github.com/meridianhealth/bedside/internal/extractor"
	"github.com/meridianhealth/bedside/internal/speech"
)

// Manager owns one Runner per patient. Runners are created lazily when a
// meeting is first configured or started and reused across restarts of the
// same patient's meeting.
type Manager struct {
	planner      Planner
	recorder     Recorder
	bridgeClient *bridge.Client
	synth        speech.Synthesizer
	grace        time.Duration
	advanceDelay time.Duration
	logger       *slog.Logger

	mu       sync.Mutex
	meetings map[string]*Runner
}

func NewManager(pl Planner, rec Recorder, br *bridge.Client, synth speech.Synthesizer, grace, advanceDelay time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		planner:      pl,
		recorder:     rec,
		bridgeClient: br,
		synth:        synth,
		grace:        grace,
		advanceDelay: advanceDelay,
		logger:       logger,
		meetings:     make(map[string]*Runner),
	}
}

// runnerFor returns the patient's runner, creating it with its own speech
// coordinator and bridge channel on first use.
func (m *Manager) runnerFor(patientID string) *Runner {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.meetings[patientID]; ok {
		return r
	}
	channel := m.bridgeClient.Channel(patientID)
	voice := speech.NewCoordinator(m.synth, bridge.NewPlayer(channel), channel, m.grace, m.logger)
	r := NewRunner(patientID, m.planner, voice, m.recorder, channel, m.advanceDelay, m.logger)
	m.meetings[patientID] = r
	return r
}

// lookup returns an existing runner without creating one.
func (m *Manager) lookup(patientID string) (*Runner, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.meetings[patientID]
	return r, ok
}

// SetQuestions configures the patient's question list before the meeting.
func (m *Manager) SetQuestions(patientID string, questions []extractor.DischargeQuestion) error {
	return m.runnerFor(patientID).SetQuestions(questions)
}

// Start begins (or, after completion, restarts) the patient's meeting.
func (m *Manager) Start(patientID string) error {
	return m.runnerFor(patientID).Start()
}

// Complete ends the patient's meeting. Unknown patients are a no-op.
func (m *Manager) Complete(patientID string) error {
	r, ok := m.lookup(patientID)
	if !ok {
		return nil
	}
	return r.Complete()
}

// PatientMessage routes recognized patient speech to the meeting. Processing
// may speak a reply and advance the plan, so it runs asynchronously.
func (m *Manager) PatientMessage(patientID, text string) bool {
	r, ok := m.lookup(patientID)
	if !ok {
		m.logger.Info("patient message for unknown meeting", "patient_id", patientID)
		return false
	}
	go r.PatientMessage(text)
	return true
}

// HandleBridgeMessage is the NATS handler for patient utterances arriving
// from the patient-facing view.
func (m *Manager) HandleBridgeMessage(patientID, text string) {
	m.PatientMessage(patientID, text)
}

// Snapshot returns the patient's meeting state, if a meeting exists.
func (m *Manager) Snapshot(patientID string) (Snapshot, bool) {
	r, ok := m.lookup(patientID)
	if !ok {
		return Snapshot{}, false
	}
	return r.Snapshot(), true
}
