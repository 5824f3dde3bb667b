package carrier_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/carrier"
)

func newTokenServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","expires_in":3600}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func newUPSClient(t *testing.T, trackServer *httptest.Server) *carrier.UPSClient {
	t.Helper()
	tokenServer := newTokenServer(t)
	return &carrier.UPSClient{
		HTTP: passthroughDoer{client: trackServer.Client()},
		Tokens: &carrier.TokenProvider{
			Carrier:      carrier.TagUPS,
			HTTP:         passthroughDoer{client: tokenServer.Client()},
			TokenURL:     tokenServer.URL,
			ClientID:     "id",
			ClientSecret: "secret",
		},
		BaseURL: trackServer.URL,
	}
}

const upsDeliveredBody = `{
  "trackResponse": {
    "shipment": [{
      "package": [{
        "trackingNumber": "1Z12345E1234567890",
        "deliveryDate": [{"type": "DEL", "date": "20260830"}],
        "activity": [
          {
            "status": {"type": "D", "description": "Delivered", "code": "FS"},
            "date": "20260830",
            "time": "142355",
            "location": {"address": {"city": "London", "countryCode": "GB"}}
          },
          {
            "status": {"type": "X", "description": "Customs duty payment is required", "code": "XD"},
            "date": "20260828",
            "time": "090000",
            "location": {"address": {"city": "Heathrow", "countryCode": "GB"}}
          },
          {
            "status": {"type": "I", "description": "Departed from facility", "code": "DP"},
            "date": "20260827",
            "time": "010203",
            "location": {"address": {"city": "Cologne", "countryCode": "DE"}}
          }
        ]
      }]
    }]
  }
}`

func TestUPSTrackDelivered(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/track/v1/details/1Z12345E1234567890", r.URL.Path)
		require.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NotEmpty(t, r.Header.Get("transId"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(upsDeliveredBody))
	}))
	defer server.Close()

	client := newUPSClient(t, server)
	result, err := client.Track(context.Background(), "1Z12345E1234567890")
	require.NoError(t, err)

	require.Equal(t, carrier.StatusDelivered, result.Status)
	require.Equal(t, "Delivered", result.Description)
	require.Equal(t, "London, GB", result.Location)
	require.NotNil(t, result.StatusTime)
	require.Equal(t, 2026, result.StatusTime.Year())
	require.NotNil(t, result.EstimatedDelivery)
	require.Len(t, result.Events, 3)
	require.True(t, result.CustomsChargeDue, "exception activity with an outstanding duty must set the flag")
}

func TestUPSTrackNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	client := newUPSClient(t, server)
	result, err := client.Track(context.Background(), "1Z00000E0000000000")
	require.NoError(t, err, "a 404 is an anticipated outcome, not an error")
	require.Equal(t, carrier.StatusNotFound, result.Status)
}

func TestUPSTrackInvalidatesTokenOnAuthFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := newUPSClient(t, server)
	result, err := client.Track(context.Background(), "1Z12345E1234567890")
	require.NoError(t, err)
	require.Equal(t, carrier.StatusError, result.Status)
	require.True(t, result.Degraded())
}

func TestUPSTrackServerErrorPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := newUPSClient(t, server)
	_, err := client.Track(context.Background(), "1Z12345E1234567890")
	require.Error(t, err, "unexpected statuses are transport failures")
}

func TestUPSTrackMalformedBodyPropagates(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>maintenance</html>"))
	}))
	defer server.Close()

	client := newUPSClient(t, server)
	_, err := client.Track(context.Background(), "1Z12345E1234567890")
	require.Error(t, err)
}

func TestUPSUnmatchedActivityDefaultsToInTransit(t *testing.T) {
	t.Parallel()

	body := `{"trackResponse":{"shipment":[{"package":[{"activity":[
		{"status":{"type":"I","description":"Package handed to local partner"},"date":"20260827","time":"120000"}
	]}]}]}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer server.Close()

	client := newUPSClient(t, server)
	result, err := client.Track(context.Background(), "1Z12345E1234567890")
	require.NoError(t, err)
	require.Equal(t, carrier.StatusInTransit, result.Status)
}
