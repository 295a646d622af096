// Package push dispatches push notifications. Messages are published as JSON
// on the bus subjects events.TopicPushDevice and events.TopicPushTopic, where
// a delivery gateway forwards them to devices.
package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Krajiyah/firebase-admin-util/internal/events"
)

const (
	PriorityHigh = "high"

	DefaultIcon  = "icon_notification"
	DefaultSound = "default"
)

// ErrNoTarget is returned when the device token or topic is empty.
var ErrNoTarget = errors.New("push target is required")

// TargetKind says whether a message addresses one device or a topic.
type TargetKind string

const (
	TargetDevice TargetKind = "device"
	TargetTopic  TargetKind = "topic"
)

// Notification is the visible part of a message.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Icon  string `json:"icon"`
	Sound string `json:"sound"`
}

// Message is the payload handed to the delivery gateway. Silent messages
// carry no notification and set ContentAvailable so the app wakes to
// process Data.
type Message struct {
	ID               string         `json:"id"`
	Kind             TargetKind     `json:"kind"`
	Target           string         `json:"target"`
	Priority         string         `json:"priority"`
	ContentAvailable bool           `json:"content_available,omitempty"`
	Notification     *Notification  `json:"notification,omitempty"`
	Data             map[string]any `json:"data,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// Sender publishes messages.
type Sender struct {
	pub    events.Publisher
	now    func() time.Time
	logger *slog.Logger
}

// NewSender creates a sender publishing to pub.
func NewSender(pub events.Publisher, logger *slog.Logger) *Sender {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{pub: pub, now: time.Now, logger: logger}
}

// SendToDevice sends a visible notification to one device token.
func (s *Sender) SendToDevice(ctx context.Context, token, title, body string, data map[string]any) (*Message, error) {
	return s.send(ctx, TargetDevice, token, visible(title, body), data)
}

// SendToTopic sends a visible notification to a topic.
func (s *Sender) SendToTopic(ctx context.Context, topic, title, body string, data map[string]any) (*Message, error) {
	return s.send(ctx, TargetTopic, topic, visible(title, body), data)
}

// SendSilentToDevice sends a data-only message to one device token.
func (s *Sender) SendSilentToDevice(ctx context.Context, token string, data map[string]any) (*Message, error) {
	return s.send(ctx, TargetDevice, token, nil, data)
}

// SendSilentToTopic sends a data-only message to a topic.
func (s *Sender) SendSilentToTopic(ctx context.Context, topic string, data map[string]any) (*Message, error) {
	return s.send(ctx, TargetTopic, topic, nil, data)
}

func visible(title, body string) *Notification {
	return &Notification{Title: title, Body: body, Icon: DefaultIcon, Sound: DefaultSound}
}

func (s *Sender) send(ctx context.Context, kind TargetKind, target string, n *Notification, data map[string]any) (*Message, error) {
	if target == "" {
		return nil, ErrNoTarget
	}
	msg := &Message{
		ID:               uuid.NewString(),
		Kind:             kind,
		Target:           target,
		Priority:         PriorityHigh,
		ContentAvailable: n == nil,
		Notification:     n,
		Data:             data,
		CreatedAt:        s.now().UTC(),
	}
	subject := events.TopicPushDevice
	if kind == TargetTopic {
		subject = events.TopicPushTopic
	}
	if err := s.pub.Publish(ctx, subject, msg); err != nil {
		return nil, fmt.Errorf("send push to %s %s: %w", kind, target, err)
	}
	s.logger.Debug("push sent", "id", msg.ID, "kind", kind, "silent", n == nil)
	return msg, nil
}
