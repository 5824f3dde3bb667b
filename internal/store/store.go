package store

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ShipmentStatus is the platform's shipment lifecycle stage. It is a wider
// enum than the canonical tracking status: it includes pre-tracking stages
// and terminal rejection, and has no separate out-for-delivery stage (that
// bucket is reported as SHIPPED).
type ShipmentStatus string

// Lifecycle statuses.
const (
	StatusCreated   ShipmentStatus = "CREATED"
	StatusApproved  ShipmentStatus = "APPROVED"
	StatusShipped   ShipmentStatus = "SHIPPED"
	StatusDelivered ShipmentStatus = "DELIVERED"
	StatusRejected  ShipmentStatus = "REJECTED"
)

// Rank orders lifecycle statuses for the forward-only update policy.
// REJECTED is terminal but outside the progression.
func (s ShipmentStatus) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusApproved:
		return 1
	case StatusShipped:
		return 2
	case StatusDelivered:
		return 3
	case StatusRejected:
		return -1
	default:
		return -2
	}
}

// Terminal reports whether the status excludes a shipment from batch
// reconciliation.
func (s ShipmentStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusRejected
}

// Shipment is the persistence view of a shipment. The tracking engine only
// reads it and conditionally rewrites status, tracking number alias and the
// serialized latest tracking snapshot.
type Shipment struct {
	ID                   int64
	TrackingNumber       string
	ManualTrackingNumber string
	Barkod               string
	CarrierName          string
	Status               ShipmentStatus
	LastTracking         []byte
	LastTrackedAt        *time.Time
	Version              int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// EffectiveTrackingNumber returns the customer-facing number used for
// detection and reporting: the carrier-assigned number, else the manual one,
// else the internal barkod.
func (s Shipment) EffectiveTrackingNumber() string {
	for _, candidate := range []string{s.TrackingNumber, s.ManualTrackingNumber, s.Barkod} {
		if trimmed := strings.TrimSpace(candidate); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

// UpdateFields enumerates the shipment fields the tracking engine may
// rewrite. Nil pointers leave the column untouched.
type UpdateFields struct {
	Status         *ShipmentStatus
	TrackingNumber *string
	LastTracking   []byte
	LastTrackedAt  *time.Time
}

var (
	// ErrNotFound is returned when a shipment id does not exist.
	ErrNotFound = errors.New("store: shipment not found")
	// ErrVersionConflict is returned when an update lost an optimistic
	// concurrency race; callers reload and retry.
	ErrVersionConflict = errors.New("store: shipment version conflict")
)

// Store is the narrow persistence port used by the tracking engine.
type Store interface {
	// Candidates returns every shipment carrying any tracking number whose
	// status is not terminal.
	Candidates(ctx context.Context) ([]Shipment, error)
	// GetShipment loads one shipment by id.
	GetShipment(ctx context.Context, id int64) (Shipment, error)
	// UpdateShipment applies fields when the stored version still matches;
	// it returns ErrVersionConflict otherwise.
	UpdateShipment(ctx context.Context, id, version int64, fields UpdateFields) (Shipment, error)
	// InsertTrackingEvent records a domain event for audit/event-bus use.
	InsertTrackingEvent(ctx context.Context, topic string, shipmentID int64, payload []byte) error
}
