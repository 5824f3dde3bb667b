package carrier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Tag identifies a supported carrier.
type Tag string

// Supported carrier tags.
const (
	TagUPS     Tag = "UPS"
	TagDHL     Tag = "DHL"
	TagFedEx   Tag = "FEDEX"
	TagGLS     Tag = "GLS"
	TagAFS     Tag = "AFS"
	TagRoyal   Tag = "ROYAL"
	TagUnknown Tag = "UNKNOWN"
)

// ParseTag converts a user-supplied carrier name into a Tag.
func ParseTag(value string) (Tag, bool) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "UPS":
		return TagUPS, true
	case "DHL":
		return TagDHL, true
	case "FEDEX", "FED_EX", "FED-EX":
		return TagFedEx, true
	case "GLS":
		return TagGLS, true
	case "AFS", "AFS TRANSPORT", "AFS_TRANSPORT":
		return TagAFS, true
	case "ROYAL", "ROYAL MAIL", "ROYAL_MAIL", "ROYALMAIL":
		return TagRoyal, true
	}
	return TagUnknown, false
}

// Status is the canonical shipment lifecycle stage, independent of any single
// carrier's vocabulary. The first four form the forward-only lattice used by
// the batch update policy; the rest are side states that never force a
// transition.
type Status string

// Canonical statuses.
const (
	StatusPreTransit     Status = "PRE_TRANSIT"
	StatusInTransit      Status = "IN_TRANSIT"
	StatusOutForDelivery Status = "OUT_FOR_DELIVERY"
	StatusDelivered      Status = "DELIVERED"
	StatusException      Status = "EXCEPTION"
	StatusUnknown        Status = "UNKNOWN"
	StatusError          Status = "ERROR"
	StatusNotFound       Status = "NOT_FOUND"
)

// LatticeRank returns the position of the status on the progression lattice.
// Side states rank -1 and never advance a shipment.
func (s Status) LatticeRank() int {
	switch s {
	case StatusPreTransit:
		return 0
	case StatusInTransit:
		return 1
	case StatusOutForDelivery:
		return 2
	case StatusDelivered:
		return 3
	default:
		return -1
	}
}

// Progressive reports whether the status participates in the lattice.
func (s Status) Progressive() bool { return s.LatticeRank() >= 0 }

// Event is a single entry in a shipment's tracking history.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status"`
	Location  string    `json:"location,omitempty"`
}

// Result is the snapshot an adapter produces for one tracking call. It is
// constructed fresh on every call and never mutated afterwards.
type Result struct {
	TrackingNumber    string     `json:"trackingNumber"`
	Carrier           Tag        `json:"carrier"`
	Status            Status     `json:"status"`
	Description       string     `json:"statusDescription,omitempty"`
	StatusTime        *time.Time `json:"statusTime,omitempty"`
	Location          string     `json:"location,omitempty"`
	EstimatedDelivery *time.Time `json:"estimatedDelivery,omitempty"`
	Events            []Event    `json:"events,omitempty"`

	// AliasTrackingNumber carries a downstream carrier number reported by the
	// carrier itself (observed for GLS-fulfilled AFS shipments).
	AliasTrackingNumber string `json:"aliasTrackingNumber,omitempty"`
	// ExternalURL points at a carrier-hosted tracking page for carriers
	// without a usable API.
	ExternalURL string `json:"externalUrl,omitempty"`
	// CustomsChargeDue flags an outstanding customs payment (UPS only).
	CustomsChargeDue bool `json:"customsChargeDue,omitempty"`
}

// Degraded reports whether the result carries a carrier-side failure rather
// than a real tracking signal.
func (r Result) Degraded() bool {
	return r.Status == StatusError || r.Status == StatusNotFound
}

// Client is the uniform per-carrier tracking operation. Implementations
// convert anticipated carrier failures (auth, no data, carrier error
// envelopes) into ERROR/NOT_FOUND results; only transport and response-parse
// failures surface as errors.
type Client interface {
	Tag() Tag
	Track(ctx context.Context, trackingNumber string) (Result, error)
}

// ErrUnsupported is returned when no adapter exists for a carrier.
var ErrUnsupported = errors.New("carrier: unsupported carrier")

// Registry resolves carrier tags to their adapters.
type Registry struct {
	clients map[Tag]Client
}

// NewRegistry builds a registry from the provided adapters.
func NewRegistry(clients ...Client) *Registry {
	reg := &Registry{clients: make(map[Tag]Client, len(clients))}
	for _, client := range clients {
		if client == nil {
			continue
		}
		reg.clients[client.Tag()] = client
	}
	return reg
}

// Resolve returns the adapter registered for the tag.
func (r *Registry) Resolve(tag Tag) (Client, error) {
	if r == nil {
		return nil, errors.New("carrier: registry not configured")
	}
	client, ok := r.clients[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, tag)
	}
	return client, nil
}

// Supported lists registered carrier tags in stable order.
func (r *Registry) Supported() []Tag {
	if r == nil {
		return nil
	}
	tags := make([]Tag, 0, len(r.clients))
	for tag := range r.clients {
		tags = append(tags, tag)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
