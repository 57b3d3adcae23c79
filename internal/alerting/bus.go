// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomtom215/arkivist/internal/logging"
)

// topic is the single alert topic.
const topic = "arkivist.alerts"

// Bus is the in-process alert pub/sub.
type Bus struct {
	channel *gochannel.GoChannel
}

// NewBus creates the alert bus.
func NewBus() *Bus {
	return &Bus{
		channel: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, newWatermillLogger()),
	}
}

// Publish emits one event. Severity and time are defaulted when unset.
func (b *Bus) Publish(event Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	if event.Severity == "" {
		event.Severity = SeverityWarning
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	if err := b.channel.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish alert event: %w", err)
	}
	return nil
}

// Subscribe delivers every subsequent event until ctx ends. Each subscriber
// gets its own stream.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	messages, err := b.channel.Subscribe(ctx, topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to alerts: %w", err)
	}

	events := make(chan Event, 16)
	go func() {
		defer close(events)
		for msg := range messages {
			var event Event
			if err := json.Unmarshal(msg.Payload, &event); err != nil {
				logging.Error().Err(err).Str("message_id", msg.UUID).Msg("Failed to decode alert event")
				msg.Ack()
				continue
			}
			msg.Ack()

			select {
			case events <- event:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

// Close shuts the bus down; pending subscribers' channels are closed.
func (b *Bus) Close() error {
	return b.channel.Close()
}

// LogSink subscribes to the bus and writes every event to the log at its
// severity. It implements suture.Service.
type LogSink struct {
	bus *Bus
}

// NewLogSink creates the log subscriber.
func NewLogSink(bus *Bus) *LogSink {
	return &LogSink{bus: bus}
}

// Serve consumes events until ctx is cancelled.
func (s *LogSink) Serve(ctx context.Context) error {
	events, err := s.bus.Subscribe(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			logEvent(event)
		}
	}
}

func (s *LogSink) String() string { return "alert-log-sink" }

func logEvent(event Event) {
	var evt = logging.Warn()
	switch event.Severity {
	case SeverityInfo:
		evt = logging.Info()
	case SeverityCritical:
		evt = logging.Error()
	}

	for k, v := range event.Fields {
		evt = evt.Str(k, v)
	}
	evt.Str("alert_type", string(event.Type)).
		Str("alert_id", event.ID).
		Msg(event.Message)
}

// watermillLogger bridges watermill's logging to zerolog.
type watermillLogger struct {
	fields watermill.LogFields
}

func newWatermillLogger() watermill.LoggerAdapter {
	return &watermillLogger{}
}

func (l *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.event(logging.Error().Err(err), fields).Msg(msg)
}

func (l *watermillLogger) Info(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	l.event(logging.Debug(), fields).Msg(msg)
}

func (l *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := l.fields.Add(fields)
	return &watermillLogger{fields: merged}
}

func (l *watermillLogger) event(evt *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range l.fields.Add(fields) {
		evt = evt.Interface(k, v)
	}
	return evt
}
