package events

import (
	"time"

	"github.com/rs/zerolog"
)

// Manager stamps and publishes events on a Bus
type Manager struct {
	bus *Bus
	log zerolog.Logger
	now func() time.Time
}

// NewManager creates a new event manager
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
		now: time.Now,
	}
}

// Bus returns the underlying bus for subscribers
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Emit publishes typed event data on behalf of module
func (m *Manager) Emit(module string, data EventData) {
	if m == nil || data == nil {
		return
	}
	event := &Event{
		Type:      data.EventType(),
		Timestamp: m.now().UTC(),
		Data:      data,
		Module:    module,
	}

	m.log.Debug().
		Str("event_type", string(event.Type)).
		Str("module", module).
		Msg("Event emitted")

	m.bus.Publish(event)
}

// EmitError publishes an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	if m == nil || err == nil {
		return
	}
	m.log.Error().Err(err).Str("module", module).Msg("Error event emitted")
	m.Emit(module, &ErrorEventData{Error: err.Error(), Context: context})
}
