package eventbus

import (
	"testing"

	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

func TestNewMemoryBus_ZeroOrNegativeCapacityDefaultsToOne(t *testing.T) {
	b := NewMemoryBus(0, -5)
	if cap(b.commands) != 1 || cap(b.events) != 1 {
		t.Fatalf("expected capacities to default to 1, got commands=%d events=%d", cap(b.commands), cap(b.events))
	}
}

func TestPublishCommand_AcceptsUntilFull(t *testing.T) {
	b := NewMemoryBus(2, 2)
	if ok := b.PublishCommand(model.Command{VehicleID: 1}); !ok {
		t.Fatalf("expected first publish to be accepted cleanly")
	}
	if ok := b.PublishCommand(model.Command{VehicleID: 2}); !ok {
		t.Fatalf("expected second publish to be accepted cleanly")
	}
}

func TestPublishCommand_DropsOldestWhenFull(t *testing.T) {
	b := NewMemoryBus(1, 1)
	b.PublishCommand(model.Command{VehicleID: 1})
	accepted := b.PublishCommand(model.Command{VehicleID: 2}) // must drop vehicle 1's command

	if accepted {
		t.Fatalf("expected drop-then-accept to report false")
	}

	got := <-b.Commands()
	if got.VehicleID != 2 {
		t.Fatalf("expected the newest command (vehicle 2) to survive, got vehicle %d", got.VehicleID)
	}
}

func TestPublishEvent_DropsOldestWhenFull(t *testing.T) {
	b := NewMemoryBus(1, 1)
	b.PublishEvent(model.DecisionEvent{Cycle: 1})
	accepted := b.PublishEvent(model.DecisionEvent{Cycle: 2})

	if accepted {
		t.Fatalf("expected drop-then-accept to report false")
	}

	got := <-b.Events()
	if got.Cycle != 2 {
		t.Fatalf("expected the newest event (cycle 2) to survive, got cycle %d", got.Cycle)
	}
}

func TestClose_ClosesBothChannels(t *testing.T) {
	b := NewMemoryBus(1, 1)
	b.Close()

	if _, open := <-b.Commands(); open {
		t.Fatalf("expected commands channel to be closed")
	}
	if _, open := <-b.Events(); open {
		t.Fatalf("expected events channel to be closed")
	}
}
