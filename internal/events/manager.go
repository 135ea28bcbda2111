package events

import (
	"github.com/rs/zerolog"
)

// Manager handles event emission and logging
type Manager struct {
	bus *Bus
	log zerolog.Logger
}

// NewManager creates a new event manager. A nil bus only logs.
func NewManager(bus *Bus, log zerolog.Logger) *Manager {
	return &Manager{
		bus: bus,
		log: log.With().Str("service", "events").Logger(),
	}
}

// Bus returns the underlying bus, which may be nil.
func (m *Manager) Bus() *Bus {
	return m.bus
}

// Emit publishes typed data and logs it at debug level. Step events are
// frequent so only alerts and lifecycle events are logged at info.
func (m *Manager) Emit(module string, data EventData) {
	if m == nil || data == nil {
		return
	}
	if m.bus != nil {
		m.bus.Emit(module, data)
	}

	ev := m.log.Debug()
	if data.EventType() != StepCompleted {
		ev = m.log.Info()
	}
	ev.Str("event_type", string(data.EventType())).
		Str("module", module).
		Interface("data", data).
		Msg("Event emitted")
}

// EmitError emits an error event
func (m *Manager) EmitError(module string, err error, context map[string]interface{}) {
	m.Emit(module, &ErrorEventData{Error: err.Error(), Context: context})
}
