// Arkivist - Backup, Verification, and Disaster Recovery Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/arkivist

package alerting

import (
	"context"
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	if err := bus.Publish(Event{
		Type:    EventBackupFailed,
		Message: "nightly file backup failed",
		Fields:  map[string]string{"artifact_id": "abc"},
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	select {
	case event := <-events:
		if event.Type != EventBackupFailed {
			t.Errorf("unexpected type: %s", event.Type)
		}
		if event.ID == "" {
			t.Error("expected an ID to be assigned")
		}
		if event.Severity != SeverityWarning {
			t.Errorf("expected default severity, got %s", event.Severity)
		}
		if event.Time.IsZero() {
			t.Error("expected a timestamp to be assigned")
		}
		if event.Fields["artifact_id"] != "abc" {
			t.Errorf("fields lost: %v", event.Fields)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestMultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus()
	defer bus.Close() //nolint:errcheck // Test cleanup

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("first Subscribe failed: %v", err)
	}
	second, err := bus.Subscribe(ctx)
	if err != nil {
		t.Fatalf("second Subscribe failed: %v", err)
	}

	if err := bus.Publish(Event{Type: EventHealthChanged, Severity: SeverityCritical, Message: "backups critical"}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for name, ch := range map[string]<-chan Event{"first": first, "second": second} {
		select {
		case event := <-ch:
			if event.Severity != SeverityCritical {
				t.Errorf("%s subscriber: unexpected severity %s", name, event.Severity)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("%s subscriber timed out", name)
		}
	}
}
