// Package app wires shared dependency graphs for the binaries.
package app

import (
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/parcelhub/backend-tracking/internal/carrier"
	"github.com/parcelhub/backend-tracking/internal/config"
	"github.com/parcelhub/backend-tracking/internal/label"
	"github.com/parcelhub/backend-tracking/internal/resilience"
)

// Carriers groups the adapter registry with the adapters some handlers need
// direct access to.
type Carriers struct {
	Registry *carrier.Registry
	AFS      *carrier.AFSClient
	Labels   *label.Fetcher
}

// BuildCarriers constructs one adapter per carrier, each behind its own
// breaker and retry policy.
func BuildCarriers(cfg *config.Config, logger zerolog.Logger) Carriers {
	httpClient := func(target string) *resilience.HTTPClient {
		return &resilience.HTTPClient{
			Client:      &http.Client{Timeout: cfg.CarrierTimeout},
			Breaker:     resilience.NewBreaker(10, 0.5, 30*time.Second).WithTarget(target).WithLogger(logger),
			BaseBackoff: 200 * time.Millisecond,
			MaxAttempts: cfg.CarrierMaxAttempts,
			Jitter:      0.2,
			Target:      target,
			Logger:      &logger,
		}
	}

	ups := &carrier.UPSClient{
		HTTP: httpClient("ups"),
		Tokens: &carrier.TokenProvider{
			Carrier:      carrier.TagUPS,
			HTTP:         httpClient("ups-oauth"),
			TokenURL:     cfg.UPS.TokenURL,
			ClientID:     cfg.UPS.ClientID,
			ClientSecret: cfg.UPS.ClientSecret,
			Logger:       &logger,
		},
		BaseURL: cfg.UPS.BaseURL,
		Logger:  logger,
	}
	dhl := &carrier.DHLClient{
		HTTP:    httpClient("dhl"),
		BaseURL: cfg.DHL.BaseURL,
		APIKey:  cfg.DHL.APIKey,
		Logger:  logger,
	}
	fedex := &carrier.FedExClient{
		HTTP: httpClient("fedex"),
		Tokens: &carrier.TokenProvider{
			Carrier:      carrier.TagFedEx,
			HTTP:         httpClient("fedex-oauth"),
			TokenURL:     cfg.FedEx.TokenURL,
			ClientID:     cfg.FedEx.ClientID,
			ClientSecret: cfg.FedEx.ClientSecret,
			Logger:       &logger,
		},
		BaseURL: cfg.FedEx.BaseURL,
		Logger:  logger,
	}
	afs := &carrier.AFSClient{
		HTTP:     httpClient("afs"),
		BaseURL:  cfg.AFS.BaseURL,
		Username: cfg.AFS.Username,
		Password: cfg.AFS.Password,
		Logger:   logger,
	}
	gls := &carrier.GLSClient{TrackingURL: cfg.GLSTrackingURL}
	royal := &carrier.RoyalMailClient{}

	return Carriers{
		Registry: carrier.NewRegistry(ups, dhl, fedex, afs, gls, royal),
		AFS:      afs,
		Labels: &label.Fetcher{
			HTTP:      httpClient("afs-labels"),
			Templates: cfg.AFSLabelTemplates,
			Logger:    logger,
		},
	}
}
