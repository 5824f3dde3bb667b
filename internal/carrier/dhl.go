package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// dhlRules classifies DHL status descriptions. DHL phrasing is verbose, so
// delivery and courier-handoff phrases come before the broad transit bucket.
var dhlRules = ruleTable{
	{keywords: []string{"delivered", "delivery successful"}, status: StatusDelivered},
	{keywords: []string{"out for delivery", "with delivery courier", "being delivered", "loaded onto the delivery vehicle"}, status: StatusOutForDelivery},
	{keywords: []string{"information received", "data received", "shipment information received", "electronically announced"}, status: StatusPreTransit},
	{keywords: []string{
		"transit",
		"processed",
		"departed",
		"arrived",
		"customs cleared",
		"cleared customs",
		"picked up",
		"parcel center",
		"sorting",
	}, status: StatusInTransit},
}

// DHLClient tracks shipments through the DHL unified tracking API. DHL uses a
// static API key header, no token exchange.
type DHLClient struct {
	HTTP    Doer
	BaseURL string
	APIKey  string
	Logger  zerolog.Logger
}

func (c *DHLClient) Tag() Tag { return TagDHL }

type dhlTrackResponse struct {
	Shipments []struct {
		ID     string `json:"id"`
		Status struct {
			Timestamp   string `json:"timestamp"`
			StatusCode  string `json:"statusCode"`
			Status      string `json:"status"`
			Description string `json:"description"`
			Location    struct {
				Address struct {
					AddressLocality string `json:"addressLocality"`
				} `json:"address"`
			} `json:"location"`
		} `json:"status"`
		EstimatedTimeOfDelivery string `json:"estimatedTimeOfDelivery"`
		Events                  []struct {
			Timestamp   string `json:"timestamp"`
			Description string `json:"description"`
			Status      string `json:"status"`
			Location    struct {
				Address struct {
					AddressLocality string `json:"addressLocality"`
				} `json:"address"`
			} `json:"location"`
		} `json:"events"`
	} `json:"shipments"`
}

// Track fetches the current DHL status for the tracking number.
func (c *DHLClient) Track(ctx context.Context, trackingNumber string) (Result, error) {
	result := Result{TrackingNumber: trackingNumber, Carrier: TagDHL}

	endpoint := fmt.Sprintf("%s/track/shipments?trackingNumber=%s",
		strings.TrimRight(c.BaseURL, "/"), url.QueryEscape(trackingNumber))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("dhl: build request: %w", err)
	}
	req.Header.Set("DHL-API-Key", c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("dhl: track request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("dhl: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		result.Status = StatusNotFound
		result.Description = "no tracking information available"
		return result, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.Logger.Warn().Str("tracking_number", trackingNumber).Msg("dhl rejected api key")
		result.Status = StatusError
		result.Description = "carrier rejected credentials"
		return result, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		result.Status = StatusError
		result.Description = "carrier rate limit exceeded"
		return result, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("dhl: unexpected status %d", resp.StatusCode)
	}

	var payload dhlTrackResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("dhl: decode response: %w", err)
	}
	if len(payload.Shipments) == 0 {
		result.Status = StatusNotFound
		result.Description = "no tracking information available"
		return result, nil
	}
	shipment := payload.Shipments[0]

	description := strings.TrimSpace(shipment.Status.Description)
	if description == "" {
		description = strings.TrimSpace(shipment.Status.Status)
	}
	result.Description = description
	result.Status = normalizeDHLStatus(description)
	result.Location = strings.TrimSpace(shipment.Status.Location.Address.AddressLocality)
	if ts, ok := parseISOTimestamp(shipment.Status.Timestamp); ok {
		result.StatusTime = &ts
	}
	if est, ok := parseISOTimestamp(shipment.EstimatedTimeOfDelivery); ok {
		result.EstimatedDelivery = &est
	}
	result.Events = make([]Event, 0, len(shipment.Events))
	for _, ev := range shipment.Events {
		status := strings.TrimSpace(ev.Description)
		if status == "" {
			status = strings.TrimSpace(ev.Status)
		}
		event := Event{Status: status, Location: strings.TrimSpace(ev.Location.Address.AddressLocality)}
		if ts, ok := parseISOTimestamp(ev.Timestamp); ok {
			event.Timestamp = ts
		}
		result.Events = append(result.Events, event)
	}
	return result, nil
}

// normalizeDHLStatus maps DHL status text onto the canonical enum. DHL emits
// an "information received" record before physical handover, so the default
// for unmatched text is PRE_TRANSIT rather than IN_TRANSIT.
func normalizeDHLStatus(description string) Status {
	if status, ok := dhlRules.match(description); ok {
		return status
	}
	return StatusPreTransit
}
