// Package events fans out anchor notifications to downstream consumers.
// Notifications carry identifiers and fingerprints only, never document content.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"ehranchor/internal/logger"
)

// Kind of notification
type Kind string

const (
	KindRegistered     Kind = "registered"
	KindAnchored       Kind = "anchored"
	KindPrivateWritten Kind = "private_written"
)

// Event is published after a ledger write commits
type Event struct {
	Kind        Kind      `json:"kind"`
	PatientID   string    `json:"patientId"`
	TxID        string    `json:"txId,omitempty"`
	Address     string    `json:"address,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
	Mime        string    `json:"mime,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Timestamp   string    `json:"timestamp,omitempty"`
	PublishedAt time.Time `json:"publishedAt"`
}

// Publisher publishes events
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(ctx context.Context, event Event) error {
	return nil
}

func (Nop) Close() {}

// Config holds the configuration for NATS JetStream connection
type Config struct {
	URL            string
	StreamName     string
	SubjectPrefix  string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectionName string
}

type natsPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// NewNATSPublisher connects to NATS and makes sure the stream covering the prefix exists
func NewNATSPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = "ehr"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "EHR_EVENTS"
	}
	opts := []nats.Option{
		nats.Name(cfg.ConnectionName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Error(err, zap.String("message", "Disconnected from NATS"))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("Reconnected to NATS", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("NATS connection closed")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.StreamName,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.StreamName, err)
	}

	return &natsPublisher{nc: nc, js: js, prefix: cfg.SubjectPrefix}, nil
}

// Publish sends the event to <prefix>.<patient>.<kind>
func (p *natsPublisher) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := p.js.Publish(ctx, Subject(p.prefix, event), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Close closes the NATS connection
func (p *natsPublisher) Close() {
	if p.nc == nil {
		return
	}
	p.nc.Close()
}

// Subject builds the subject for an event. Characters NATS treats specially in a token
// are replaced in the patient id.
func Subject(prefix string, event Event) string {
	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, event.PatientID)
	if token == "" {
		token = "_"
	}
	return fmt.Sprintf("%s.%s.%s", prefix, token, event.Kind)
}
