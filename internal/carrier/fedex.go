package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// fedexStatusCodes is the primary code table; the keyword table below is the
// fallback for responses carrying only descriptive text. CA (cancelled) and
// HL (hold) fold into EXCEPTION because the canonical set is closed and both
// are non-advancing side conditions.
var fedexStatusCodes = map[string]Status{
	"OC": StatusPreTransit,
	"IT": StatusInTransit,
	"PU": StatusInTransit,
	"AR": StatusInTransit,
	"OD": StatusOutForDelivery,
	"DL": StatusDelivered,
	"DE": StatusDelivered,
	"CA": StatusException,
	"EX": StatusException,
	"HL": StatusException,
}

var fedexRules = ruleTable{
	{keywords: []string{"delivered"}, status: StatusDelivered},
	{keywords: []string{"out for delivery", "on fedex vehicle for delivery"}, status: StatusOutForDelivery},
	{keywords: []string{"label created", "shipment information sent"}, status: StatusPreTransit},
	{keywords: []string{"exception", "delay", "held", "clearance delay"}, status: StatusException},
	{keywords: []string{"in transit", "picked up", "arrived", "departed", "at local fedex facility"}, status: StatusInTransit},
}

// FedExClient tracks packages through the FedEx REST tracking API using OAuth
// client-credential tokens.
type FedExClient struct {
	HTTP    Doer
	Tokens  *TokenProvider
	BaseURL string
	Logger  zerolog.Logger
}

func (c *FedExClient) Tag() Tag { return TagFedEx }

type fedexTrackRequest struct {
	IncludeDetailedScans bool                `json:"includeDetailedScans"`
	TrackingInfo         []fedexTrackingInfo `json:"trackingInfo"`
}

type fedexTrackingInfo struct {
	TrackingNumberInfo fedexTrackingNumberInfo `json:"trackingNumberInfo"`
}

type fedexTrackingNumberInfo struct {
	TrackingNumber string `json:"trackingNumber"`
}

type fedexTrackResponse struct {
	Output struct {
		CompleteTrackResults []struct {
			TrackingNumber string `json:"trackingNumber"`
			TrackResults   []struct {
				LatestStatusDetail struct {
					Code             string `json:"code"`
					DerivedCode      string `json:"derivedCode"`
					StatusByLocality string `json:"statusByLocality"`
					Description      string `json:"description"`
					ScanLocation     struct {
						City        string `json:"city"`
						CountryCode string `json:"countryCode"`
					} `json:"scanLocation"`
				} `json:"latestStatusDetail"`
				DateAndTimes []struct {
					Type     string `json:"type"`
					DateTime string `json:"dateTime"`
				} `json:"dateAndTimes"`
				ScanEvents []struct {
					Date             string `json:"date"`
					EventDescription string `json:"eventDescription"`
					DerivedStatus    string `json:"derivedStatus"`
					ScanLocation     struct {
						City        string `json:"city"`
						CountryCode string `json:"countryCode"`
					} `json:"scanLocation"`
				} `json:"scanEvents"`
				EstimatedDeliveryTimeWindow struct {
					Window struct {
						Ends string `json:"ends"`
					} `json:"window"`
				} `json:"estimatedDeliveryTimeWindow"`
				Error struct {
					Code    string `json:"code"`
					Message string `json:"message"`
				} `json:"error"`
			} `json:"trackResults"`
		} `json:"completeTrackResults"`
	} `json:"output"`
}

// Track fetches the current FedEx status for the tracking number.
func (c *FedExClient) Track(ctx context.Context, trackingNumber string) (Result, error) {
	result := Result{TrackingNumber: trackingNumber, Carrier: TagFedEx}

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.Logger.Warn().Err(err).Str("tracking_number", trackingNumber).Msg("fedex authentication failed")
			result.Status = StatusError
			result.Description = "carrier authentication failed"
			return result, nil
		}
		return Result{}, err
	}

	encoded, err := json.Marshal(fedexTrackRequest{
		IncludeDetailedScans: true,
		TrackingInfo: []fedexTrackingInfo{
			{TrackingNumberInfo: fedexTrackingNumberInfo{TrackingNumber: trackingNumber}},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("fedex: encode request: %w", err)
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/track/v1/trackingnumbers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(encoded))
	if err != nil {
		return Result{}, fmt.Errorf("fedex: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fedex: track request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("fedex: read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		result.Status = StatusNotFound
		result.Description = "no tracking information available"
		return result, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		c.Tokens.Invalidate()
		result.Status = StatusError
		result.Description = "carrier rejected credentials"
		return result, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Result{}, fmt.Errorf("fedex: unexpected status %d", resp.StatusCode)
	}

	var payload fedexTrackResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("fedex: decode response: %w", err)
	}
	complete := payload.Output.CompleteTrackResults
	if len(complete) == 0 || len(complete[0].TrackResults) == 0 {
		result.Status = StatusNotFound
		result.Description = "no tracking information available"
		return result, nil
	}
	track := complete[0].TrackResults[0]
	if track.Error.Code != "" {
		result.Status = StatusNotFound
		result.Description = track.Error.Message
		return result, nil
	}

	description := strings.TrimSpace(track.LatestStatusDetail.Description)
	if description == "" {
		description = strings.TrimSpace(track.LatestStatusDetail.StatusByLocality)
	}
	result.Description = description
	result.Status = normalizeFedExStatus(track.LatestStatusDetail.Code, track.LatestStatusDetail.DerivedCode, description)
	result.Location = joinCityCountry(track.LatestStatusDetail.ScanLocation.City, track.LatestStatusDetail.ScanLocation.CountryCode)

	for _, dt := range track.DateAndTimes {
		ts, ok := parseISOTimestamp(dt.DateTime)
		if !ok {
			continue
		}
		switch dt.Type {
		case "ACTUAL_DELIVERY", "ACTUAL_PICKUP":
			result.StatusTime = &ts
		case "ESTIMATED_DELIVERY":
			result.EstimatedDelivery = &ts
		}
	}
	if result.EstimatedDelivery == nil {
		if ts, ok := parseISOTimestamp(track.EstimatedDeliveryTimeWindow.Window.Ends); ok {
			result.EstimatedDelivery = &ts
		}
	}

	result.Events = make([]Event, 0, len(track.ScanEvents))
	for _, scan := range track.ScanEvents {
		event := Event{
			Status:   strings.TrimSpace(scan.EventDescription),
			Location: joinCityCountry(scan.ScanLocation.City, scan.ScanLocation.CountryCode),
		}
		if ts, ok := parseISOTimestamp(scan.Date); ok {
			event.Timestamp = ts
		}
		result.Events = append(result.Events, event)
		if result.StatusTime == nil && !event.Timestamp.IsZero() {
			ts := event.Timestamp
			result.StatusTime = &ts
		}
	}
	return result, nil
}

// normalizeFedExStatus resolves the status code table first, then falls back
// to keyword matching over the description. Unrecognized but present activity
// defaults to IN_TRANSIT.
func normalizeFedExStatus(code, derivedCode, description string) Status {
	for _, candidate := range []string{code, derivedCode} {
		if status, ok := fedexStatusCodes[strings.ToUpper(strings.TrimSpace(candidate))]; ok {
			return status
		}
	}
	if status, ok := fedexRules.match(description); ok {
		return status
	}
	if strings.TrimSpace(description) == "" && strings.TrimSpace(code) == "" {
		return StatusUnknown
	}
	return StatusInTransit
}

func joinCityCountry(city, country string) string {
	parts := make([]string, 0, 2)
	for _, part := range []string{city, country} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}
