package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// Message types carried on a meeting channel.
const (
	TypeBotMessage     = "bot_message"
	TypeSpeakingStart  = "speaking_start"
	TypeSpeakingEnd    = "speaking_end"
	TypePatientMessage = "patient_message"
)

// Message is one cross-view synchronization record. Fire-and-forget, no
// acknowledgment; ordering is whatever NATS delivers on one subject.
type Message struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const subjectPrefix = "bedside.meeting."

// Subjects per patient: <prefix><patientID>.out carries bot-side events to
// the patient view, .in carries recognized patient speech back, .audio
// carries raw synthesized audio. Split directions keep a subscriber from
// hearing its own publishes.
func outSubject(patientID string) string   { return subjectPrefix + patientID + ".out" }
func inSubject(patientID string) string    { return subjectPrefix + patientID + ".in" }
func audioSubject(patientID string) string { return subjectPrefix + patientID + ".audio" }

// Client wraps the NATS connection used to mirror a conversation between the
// doctor-facing control view and the patient-facing voice view.
type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func Connect(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

// SubscribePatientMessages delivers every inbound patient utterance from any
// meeting channel to handler along with its patient id.
func (c *Client) SubscribePatientMessages(handler func(patientID, text string)) error {
	if c == nil {
		return nil
	}
	subject := subjectPrefix + "*.in"
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		patientID := strings.TrimSuffix(strings.TrimPrefix(msg.Subject, subjectPrefix), ".in")
		var m Message
		if err := json.Unmarshal(msg.Data, &m); err != nil {
			c.logger.Error("failed to parse bridge message", "subject", msg.Subject, "error", err)
			return
		}
		if m.Type != TypePatientMessage {
			return
		}
		handler(patientID, m.Text)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Channel returns the per-patient publish surface. Safe to call on a nil
// client; the resulting channel silently drops every send.
func (c *Client) Channel(patientID string) *Channel {
	if c == nil {
		return nil
	}
	return &Channel{client: c, patientID: patientID}
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}

// Channel publishes one meeting's events to the patient view. Every method
// is nil-safe and best-effort: when the bridge is absent or a publish fails,
// the send is dropped and the single-view flow keeps working.
type Channel struct {
	client    *Client
	patientID string
}

func (ch *Channel) BotMessage(text string) {
	ch.publish(outSubject, Message{Type: TypeBotMessage, Text: text})
}

// SpeakingStarted implements the speech signaler: the patient view pauses
// its recognizer while the bot talks.
func (ch *Channel) SpeakingStarted() {
	ch.publish(outSubject, Message{Type: TypeSpeakingStart})
}

func (ch *Channel) SpeakingEnded() {
	ch.publish(outSubject, Message{Type: TypeSpeakingEnd})
}

// PatientMessage publishes recognized patient speech toward the control
// view. Used by edge processes hosting the recognizer.
func (ch *Channel) PatientMessage(text string) {
	ch.publish(inSubject, Message{Type: TypePatientMessage, Text: text})
}

// Audio forwards synthesized audio bytes to the patient view.
func (ch *Channel) Audio(audio []byte) {
	if ch == nil || ch.client == nil {
		return
	}
	if err := ch.client.conn.Publish(audioSubject(ch.patientID), audio); err != nil {
		ch.client.logger.Warn("bridge audio publish failed", "patient_id", ch.patientID, "error", err)
	}
}

func (ch *Channel) publish(subject func(string) string, m Message) {
	if ch == nil || ch.client == nil {
		return
	}
	payload, err := json.Marshal(m)
	if err != nil {
		ch.client.logger.Error("marshal bridge message", "error", err)
		return
	}
	if err := ch.client.conn.Publish(subject(ch.patientID), payload); err != nil {
		ch.client.logger.Warn("bridge publish failed", "patient_id", ch.patientID, "type", m.Type, "error", err)
	}
}
