package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-memory Store used by tests and local development.
type Memory struct {
	mu        sync.Mutex
	shipments map[int64]Shipment
	events    []MemoryEvent
	nextID    int64
}

// MemoryEvent captures an InsertTrackingEvent call for assertions.
type MemoryEvent struct {
	Topic      string
	ShipmentID int64
	Payload    []byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{shipments: make(map[int64]Shipment), nextID: 1}
}

// Seed inserts a shipment and returns it with assigned id and version.
func (m *Memory) Seed(shipment Shipment) Shipment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if shipment.ID == 0 {
		shipment.ID = m.nextID
		m.nextID++
	} else if shipment.ID >= m.nextID {
		m.nextID = shipment.ID + 1
	}
	if shipment.Version == 0 {
		shipment.Version = 1
	}
	now := time.Now()
	shipment.CreatedAt = now
	shipment.UpdatedAt = now
	m.shipments[shipment.ID] = shipment
	return shipment
}

// Candidates returns non-terminal shipments carrying a tracking reference.
func (m *Memory) Candidates(_ context.Context) ([]Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Shipment
	for _, shipment := range m.shipments {
		if shipment.Status.Terminal() {
			continue
		}
		if shipment.EffectiveTrackingNumber() == "" {
			continue
		}
		out = append(out, shipment)
	}
	return out, nil
}

// GetShipment loads one shipment by id.
func (m *Memory) GetShipment(_ context.Context, id int64) (Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shipment, ok := m.shipments[id]
	if !ok {
		return Shipment{}, ErrNotFound
	}
	return shipment, nil
}

// UpdateShipment applies fields with the same optimistic version semantics as
// the Postgres implementation.
func (m *Memory) UpdateShipment(_ context.Context, id, version int64, fields UpdateFields) (Shipment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shipment, ok := m.shipments[id]
	if !ok {
		return Shipment{}, ErrNotFound
	}
	if shipment.Version != version {
		return Shipment{}, ErrVersionConflict
	}
	if fields.Status != nil {
		shipment.Status = *fields.Status
	}
	if fields.TrackingNumber != nil {
		shipment.TrackingNumber = *fields.TrackingNumber
	}
	if fields.LastTracking != nil {
		shipment.LastTracking = fields.LastTracking
	}
	if fields.LastTrackedAt != nil {
		shipment.LastTrackedAt = fields.LastTrackedAt
	}
	shipment.Version++
	shipment.UpdatedAt = time.Now()
	m.shipments[id] = shipment
	return shipment, nil
}

// InsertTrackingEvent records the event in memory.
func (m *Memory) InsertTrackingEvent(_ context.Context, topic string, shipmentID int64, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, MemoryEvent{Topic: topic, ShipmentID: shipmentID, Payload: payload})
	return nil
}

// Events returns a copy of recorded events.
func (m *Memory) Events() []MemoryEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryEvent, len(m.events))
	copy(out, m.events)
	return out
}
