package carrier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// upsExceptionType is the UPS activity status type used for customs and other
// exemption events.
const upsExceptionType = "X"

// upsRules classifies UPS free-text activity descriptions. PRE_TRANSIT is
// deliberately narrow: only an explicit label-created-not-yet-received phrase
// qualifies, because any other recorded activity implies the package moved.
var upsRules = ruleTable{
	{keywords: []string{"delivered"}, status: StatusDelivered},
	{keywords: []string{"out for delivery"}, status: StatusOutForDelivery},
	{keywords: []string{
		"shipper created a label",
		"label created",
		"ups has not received the package",
		"order processed: ready for ups",
	}, status: StatusPreTransit},
	{keywords: []string{
		"in transit",
		"on the way",
		"scan",
		"facility",
		"pickup",
		"picked up",
		"export",
		"import",
		"departed",
		"arrived",
		"clearance",
		"customs",
	}, status: StatusInTransit},
}

// UPSClient tracks packages through the UPS REST tracking API using OAuth
// client-credential tokens.
type UPSClient struct {
	HTTP    Doer
	Tokens  *TokenProvider
	BaseURL string
	Logger  zerolog.Logger
}

func (c *UPSClient) Tag() Tag { return TagUPS }

type upsTrackResponse struct {
	TrackResponse struct {
		Shipment []struct {
			Package []struct {
				TrackingNumber string `json:"trackingNumber"`
				DeliveryDate   []struct {
					Type string `json:"type"`
					Date string `json:"date"`
				} `json:"deliveryDate"`
				Activity []upsActivity `json:"activity"`
			} `json:"package"`
			Warnings []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"warnings"`
		} `json:"shipment"`
	} `json:"trackResponse"`
}

type upsActivity struct {
	Status struct {
		Type        string `json:"type"`
		Description string `json:"description"`
		Code        string `json:"code"`
	} `json:"status"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Location struct {
		Address struct {
			City        string `json:"city"`
			StateProv   string `json:"stateProvince"`
			CountryCode string `json:"countryCode"`
		} `json:"address"`
	} `json:"location"`
}

// Track fetches the current UPS status for the tracking number. Auth failures
// and carrier-reported "no data" become ERROR/NOT_FOUND results; transport
// and response-parse failures are returned as errors.
func (c *UPSClient) Track(ctx context.Context, trackingNumber string) (Result, error) {
	result := Result{TrackingNumber: trackingNumber, Carrier: TagUPS}

	token, err := c.Tokens.Token(ctx)
	if err != nil {
		var authErr *AuthError
		if errors.As(err, &authErr) {
			c.Logger.Warn().Err(err).Str("tracking_number", trackingNumber).Msg("ups authentication failed")
			result.Status = StatusError
			result.Description = "carrier authentication failed"
			return result, nil
		}
		return Result{}, err
	}

	endpoint := fmt.Sprintf("%s/api/track/v1/details/%s", strings.TrimRight(c.BaseURL, "/"), trackingNumber)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, fmt.Errorf("ups: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("transId", uuid.NewString())
	req.Header.Set("transactionSrc", "tracking-core")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("ups: track request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("ups: read response: %w", err)
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
		return Result{}, fmt.Errorf("ups: unexpected status %d", resp.StatusCode)
	}

	var payload upsTrackResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return Result{}, fmt.Errorf("ups: decode response: %w", err)
	}
	shipments := payload.TrackResponse.Shipment
	if len(shipments) == 0 || len(shipments[0].Package) == 0 {
		result.Status = StatusNotFound
		result.Description = "no tracking information available"
		return result, nil
	}
	pkg := shipments[0].Package[0]
	if len(pkg.Activity) == 0 {
		result.Status = StatusNotFound
		result.Description = "no activity recorded"
		return result, nil
	}

	latest := pkg.Activity[0]
	result.Description = strings.TrimSpace(latest.Status.Description)
	result.Status = normalizeUPSStatus(result.Description)
	result.Location = upsLocation(latest)
	if ts, ok := parseUPSTimestamp(latest.Date, latest.Time); ok {
		result.StatusTime = &ts
	}
	for _, dd := range pkg.DeliveryDate {
		if dd.Type == "DEL" || dd.Type == "SDD" {
			if est, err := time.Parse("20060102", dd.Date); err == nil {
				result.EstimatedDelivery = &est
			}
			break
		}
	}
	result.Events = make([]Event, 0, len(pkg.Activity))
	for _, act := range pkg.Activity {
		event := Event{Status: strings.TrimSpace(act.Status.Description), Location: upsLocation(act)}
		if ts, ok := parseUPSTimestamp(act.Date, act.Time); ok {
			event.Timestamp = ts
		}
		result.Events = append(result.Events, event)
		// Customs charges can be flagged on any historical activity, not just
		// the latest one. First positive wins.
		if !result.CustomsChargeDue && act.Status.Type == upsExceptionType {
			result.CustomsChargeDue = CustomsChargeDue(act.Status.Description)
		}
	}
	return result, nil
}

// normalizeUPSStatus maps UPS activity text onto the canonical enum. Any
// unmatched but present activity defaults to IN_TRANSIT: tracking activity
// implies motion.
func normalizeUPSStatus(description string) Status {
	if strings.TrimSpace(description) == "" {
		return StatusUnknown
	}
	if status, ok := upsRules.match(description); ok {
		return status
	}
	return StatusInTransit
}

func upsLocation(act upsActivity) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{act.Location.Address.City, act.Location.Address.StateProv, act.Location.Address.CountryCode} {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return strings.Join(parts, ", ")
}

func parseUPSTimestamp(date, clock string) (time.Time, bool) {
	date = strings.TrimSpace(date)
	clock = strings.TrimSpace(clock)
	if date == "" {
		return time.Time{}, false
	}
	if clock == "" {
		clock = "000000"
	}
	ts, err := time.Parse("20060102 150405", date+" "+clock)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}
