// Package eventbus implements the core's two outbound channels: the
// command channel (to vehicles) and the decision-event channel (to the
// operator dashboard), both bounded with drop-oldest backpressure.
package eventbus

import (
	"sync"

	"github.com/vriez/multi-uav-ooda-system/pkg/model"
)

// Publisher is the interface the orchestrator's Act phase uses to emit
// commands and decision events. PublishCommand/PublishEvent never block;
// they return false when the channel was full and the oldest queued item
// was dropped to make room. Dropped items are counted, never fatal.
type Publisher interface {
	PublishCommand(cmd model.Command) (accepted bool)
	PublishEvent(evt model.DecisionEvent) (accepted bool)
	Commands() <-chan model.Command
	Events() <-chan model.DecisionEvent
	Close()
}

// MemoryBus is a bounded, drop-oldest in-memory Publisher. It is the
// default backend (config eventbus.backend == "memory"); KafkaBus
// satisfies the same interface for deployments that want a durable
// outbound transport.
type MemoryBus struct {
	mu       sync.Mutex
	commands chan model.Command
	events   chan model.DecisionEvent
}

// NewMemoryBus builds a MemoryBus with the given bounded capacities.
func NewMemoryBus(commandCapacity, eventCapacity int) *MemoryBus {
	if commandCapacity <= 0 {
		commandCapacity = 1
	}
	if eventCapacity <= 0 {
		eventCapacity = 1
	}
	return &MemoryBus{
		commands: make(chan model.Command, commandCapacity),
		events:   make(chan model.DecisionEvent, eventCapacity),
	}
}

// PublishCommand enqueues cmd, dropping the oldest queued command (now
// stale) if the channel is full. The drop-then-retry is serialized under
// a mutex so concurrent producers cannot race on "is it full".
func (b *MemoryBus) PublishCommand(cmd model.Command) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case b.commands <- cmd:
		return true
	default:
		select {
		case <-b.commands:
		default:
		}
		select {
		case b.commands <- cmd:
			return false // accepted, but only after dropping the oldest
		default:
			return false
		}
	}
}

// PublishEvent enqueues evt, dropping the oldest queued event if the
// channel is full. Monitoring is lossy by design.
func (b *MemoryBus) PublishEvent(evt model.DecisionEvent) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	select {
	case b.events <- evt:
		return true
	default:
		select {
		case <-b.events:
		default:
		}
		select {
		case b.events <- evt:
			return false
		default:
			return false
		}
	}
}

// Commands exposes the outbound command stream for a transport adapter to
// drain.
func (b *MemoryBus) Commands() <-chan model.Command { return b.commands }

// Events exposes the outbound decision-event stream for a transport
// adapter (or dashboard bridge) to drain.
func (b *MemoryBus) Events() <-chan model.DecisionEvent { return b.events }

// Close closes both channels. Safe to call once, after the orchestrator's
// Run loop has returned.
func (b *MemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	close(b.commands)
	close(b.events)
}
