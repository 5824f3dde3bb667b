package carrier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// afsRules classifies AFS Transport status text, which arrives in Turkish.
// Unlike the other carriers there is no activity-implies-motion assumption,
// so unmatched text stays UNKNOWN.
var afsRules = ruleTable{
	{keywords: []string{"teslim edildi", "teslimat tamamland", "alıcıya teslim"}, status: StatusDelivered},
	{keywords: []string{"dağıtımda", "dağıtıma çık", "kuryede", "kurye ile"}, status: StatusOutForDelivery},
	{keywords: []string{"yolda", "transfer", "aktarma", "çıkış yap", "varış", "sevk edildi"}, status: StatusInTransit},
	{keywords: []string{"kayıt oluştur", "kargo kabul", "gönderi alındı", "beklemede"}, status: StatusPreTransit},
	{keywords: []string{"iade", "hasar", "iptal", "teslim edilemedi"}, status: StatusException},
}

// AFSClient speaks AFS Transport's single custom JSON endpoint. Every
// operation posts the same envelope keyed by an "islem" field; tracking and
// waybill creation share the endpoint.
type AFSClient struct {
	HTTP     Doer
	BaseURL  string
	Username string
	Password string
	Logger   zerolog.Logger
}

func (c *AFSClient) Tag() Tag { return TagAFS }

type afsRequest struct {
	Islem     string `json:"islem"`
	Kullanici string `json:"kullanici"`
	Sifre     string `json:"sifre"`
	Barkod    string `json:"barkod,omitempty"`
}

type afsTrackResponse struct {
	Sonuc      string `json:"sonuc"`
	Mesaj      string `json:"mesaj"`
	Durum      string `json:"durum"`
	Aciklama   string `json:"aciklama"`
	Tarih      string `json:"tarih"`
	Yer        string `json:"yer"`
	Hareketler []struct {
		Tarih string `json:"tarih"`
		Durum string `json:"durum"`
		Yer   string `json:"yer"`
	} `json:"hareketler"`
	// AFS hands shipments fulfilled by GLS a downstream GLS number; the
	// orchestrator persists it as the shipment's carrier tracking number.
	GLSTakipNo string `json:"gls_takip_no"`
}

// WaybillResponse is the carrier's answer to a waybill creation request. The
// label artifact chain consumes it.
type WaybillResponse struct {
	Barkod   string `json:"barkod"`
	LabelURL string `json:"etiket_url"`
	Message  string `json:"mesaj"`
}

// Track fetches AFS status for a barkod or customer-facing number.
func (c *AFSClient) Track(ctx context.Context, trackingNumber string) (Result, error) {
	result := Result{TrackingNumber: trackingNumber, Carrier: TagAFS}

	payload, err := c.post(ctx, afsRequest{
		Islem:     "takip",
		Kullanici: c.Username,
		Sifre:     c.Password,
		Barkod:    trackingNumber,
	})
	if err != nil {
		return Result{}, err
	}

	var track afsTrackResponse
	if err := json.Unmarshal(payload, &track); err != nil {
		return Result{}, fmt.Errorf("afs: decode response: %w", err)
	}
	if track.Sonuc != "1" {
		message := strings.ToLower(track.Mesaj)
		if strings.Contains(message, "bulunamad") || strings.Contains(message, "kayıt yok") {
			result.Status = StatusNotFound
			result.Description = track.Mesaj
			return result, nil
		}
		c.Logger.Warn().Str("tracking_number", trackingNumber).Str("mesaj", track.Mesaj).Msg("afs rejected tracking request")
		result.Status = StatusError
		result.Description = track.Mesaj
		return result, nil
	}

	description := strings.TrimSpace(track.Durum)
	if description == "" {
		description = strings.TrimSpace(track.Aciklama)
	}
	result.Description = description
	result.Status = normalizeAFSStatus(description)
	result.Location = strings.TrimSpace(track.Yer)
	if ts, ok := parseAFSTimestamp(track.Tarih); ok {
		result.StatusTime = &ts
	}
	result.AliasTrackingNumber = strings.TrimSpace(track.GLSTakipNo)
	result.Events = make([]Event, 0, len(track.Hareketler))
	for _, hareket := range track.Hareketler {
		event := Event{Status: strings.TrimSpace(hareket.Durum), Location: strings.TrimSpace(hareket.Yer)}
		if ts, ok := parseAFSTimestamp(hareket.Tarih); ok {
			event.Timestamp = ts
		}
		result.Events = append(result.Events, event)
	}
	return result, nil
}

// CreateWaybill registers a shipment with AFS and returns the carrier
// reference plus label URL for the artifact retrieval chain.
func (c *AFSClient) CreateWaybill(ctx context.Context, barkod string) (WaybillResponse, error) {
	payload, err := c.post(ctx, afsRequest{
		Islem:     "kargo_kabul",
		Kullanici: c.Username,
		Sifre:     c.Password,
		Barkod:    barkod,
	})
	if err != nil {
		return WaybillResponse{}, err
	}
	var waybill WaybillResponse
	if err := json.Unmarshal(payload, &waybill); err != nil {
		return WaybillResponse{}, fmt.Errorf("afs: decode waybill response: %w", err)
	}
	return waybill, nil
}

func (c *AFSClient) post(ctx context.Context, body afsRequest) ([]byte, error) {
	encoded, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("afs: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/"), bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("afs: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("afs: %s request: %w", body.Islem, err)
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("afs: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("afs: unexpected status %d", resp.StatusCode)
	}
	return payload, nil
}

// normalizeAFSStatus maps AFS Turkish status text onto the canonical enum.
func normalizeAFSStatus(description string) Status {
	if status, ok := afsRules.match(description); ok {
		return status
	}
	return StatusUnknown
}

func parseAFSTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"02.01.2006 15:04", "02.01.2006 15:04:05", "02.01.2006", time.RFC3339} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
