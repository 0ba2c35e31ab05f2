// Package events publishes meditation lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/nadzzz/serenity/internal/config"
)

const flushTimeout = 2 * time.Second

// Type names a lifecycle transition; it is also the last subject token.
type Type string

const (
	// Generated is emitted after a new mixed track is written.
	Generated Type = "generated"
	// Removed is emitted after a mixed track is deleted.
	Removed Type = "removed"
)

// Event describes a change to a cached meditation track.
type Event struct {
	ID        string    `json:"id"`
	Type      Type      `json:"type"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Ambiance  string    `json:"ambiance"`
	VoiceID   string    `json:"voiceId"`
	UID       string    `json:"uid,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, key, title, ambiance, voiceID, uid string) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Key:       key,
		Title:     title,
		Ambiance:  ambiance,
		VoiceID:   voiceID,
		UID:       uid,
		Timestamp: time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, evt Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

// Publish discards evt.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }

// NATSPublisher publishes events as JSON on <prefix>.<type>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
	owned  bool
}

// Connect dials the configured NATS server.
func Connect(cfg config.EventsConfig) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("serenity"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats %s: %w", cfg.URL, err)
	}
	p := NewNATSPublisher(conn, cfg.SubjectPrefix)
	p.owned = true
	return p, nil
}

// NewNATSPublisher publishes on an existing connection. Close leaves conn open.
func NewNATSPublisher(conn *nats.Conn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = "meditation"
	}
	return &NATSPublisher{conn: conn, prefix: prefix}
}

// Subject returns the subject an event of type t is published on.
func (p *NATSPublisher) Subject(t Type) string {
	return p.prefix + "." + string(t)
}

// Publish marshals evt and publishes it, flushing so delivery errors surface here.
func (p *NATSPublisher) Publish(ctx context.Context, evt Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshalling event: %w", err)
	}
	subject := p.Subject(evt.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	// FlushWithContext refuses contexts without a deadline.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}
	if err := p.conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flushing %s: %w", subject, err)
	}
	return nil
}

// Close drains the connection if the publisher dialed it.
func (p *NATSPublisher) Close() error {
	if !p.owned {
		return nil
	}
	if err := p.conn.Drain(); err != nil {
		return fmt.Errorf("draining nats connection: %w", err)
	}
	return nil
}
