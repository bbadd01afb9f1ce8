package hass

import (
	"encoding/json"
	"testing"
	"time"
)

func TestHealthReporter_PublishNow(t *testing.T) {
	online := testBox(1)
	offline := testBox(2)
	offline.IsOnline = false
	ctrl := newMockController(online, offline)
	broker := newMockBroker()
	reporter := NewHealthReporter(broker, ctrl, "1.2.3", time.Minute, nil)

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	var msg healthMessage
	if err := json.Unmarshal([]byte(broker.payload(t, "moodo/bridge/health")), &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg.Status != "healthy" {
		t.Errorf("status = %q, want healthy", msg.Status)
	}
	if msg.Version != "1.2.3" {
		t.Errorf("version = %q, want 1.2.3", msg.Version)
	}
	if msg.Boxes != 2 || msg.BoxesOnline != 1 {
		t.Errorf("boxes = %d online = %d, want 2 and 1", msg.Boxes, msg.BoxesOnline)
	}
}

func TestHealthReporter_DegradedWhenCloudUnreachable(t *testing.T) {
	ctrl := newMockController(testBox(1))
	ctrl.unavailable = true
	broker := newMockBroker()
	reporter := NewHealthReporter(broker, ctrl, "test", 0, nil)

	if err := reporter.PublishNow(); err != nil {
		t.Fatalf("PublishNow() error = %v", err)
	}

	var msg healthMessage
	if err := json.Unmarshal([]byte(broker.payload(t, "moodo/bridge/health")), &msg); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if msg.Status != "degraded" {
		t.Errorf("status = %q, want degraded", msg.Status)
	}
	if msg.Reason == "" {
		t.Error("degraded report should carry a reason")
	}
}

func TestHealthReporter_StartPublishesAndStops(t *testing.T) {
	ctrl := newMockController(testBox(1))
	broker := newMockBroker()
	reporter := NewHealthReporter(broker, ctrl, "test", time.Hour, nil)

	reporter.Start()
	defer reporter.Stop()

	deadline := time.After(2 * time.Second)
	for !broker.published("moodo/bridge/health") {
		select {
		case <-deadline:
			t.Fatal("no health report published after Start")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Stop twice to confirm idempotence.
	reporter.Stop()
	reporter.Stop()
}
