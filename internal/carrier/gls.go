package carrier

import (
	"context"
	"net/url"
	"strings"
)

// GLSClient covers GLS, which exposes no public tracking API. Track always
// returns a fixed informational sentinel plus a constructed link to the GLS
// tracking page; callers must not treat it as a real status signal.
type GLSClient struct {
	TrackingURL string
}

const defaultGLSTrackingURL = "https://gls-group.eu/track"

func (c *GLSClient) Tag() Tag { return TagGLS }

// Track builds the external tracking reference for the number.
func (c *GLSClient) Track(_ context.Context, trackingNumber string) (Result, error) {
	base := strings.TrimSpace(c.TrackingURL)
	if base == "" {
		base = defaultGLSTrackingURL
	}
	return Result{
		TrackingNumber: trackingNumber,
		Carrier:        TagGLS,
		Status:         StatusUnknown,
		Description:    "tracking available externally",
		ExternalURL:    base + "?match=" + url.QueryEscape(trackingNumber),
	}, nil
}
