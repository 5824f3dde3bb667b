package carrier_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/carrier"
)

func newAFSClient(server *httptest.Server) *carrier.AFSClient {
	return &carrier.AFSClient{
		HTTP:     passthroughDoer{client: server.Client()},
		BaseURL:  server.URL,
		Username: "acme",
		Password: "secret",
	}
}

const afsDeliveredBody = `{
  "sonuc": "1",
  "durum": "Teslim edildi",
  "aciklama": "Gönderi alıcıya teslim edildi",
  "tarih": "30.08.2026 11:25",
  "yer": "İstanbul",
  "hareketler": [
    {"tarih": "30.08.2026 11:25", "durum": "Teslim edildi", "yer": "İstanbul"},
    {"tarih": "29.08.2026 07:10", "durum": "Dağıtımda", "yer": "İstanbul"}
  ],
  "gls_takip_no": "12345678901"
}`

func TestAFSTrackDeliveredWithAlias(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req map[string]string
		require.NoError(t, json.Unmarshal(body, &req))
		require.Equal(t, "takip", req["islem"])
		require.Equal(t, "acme", req["kullanici"])
		require.Equal(t, "secret", req["sifre"])
		require.Equal(t, "003123456789", req["barkod"])
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(afsDeliveredBody))
	}))
	defer server.Close()

	result, err := newAFSClient(server).Track(context.Background(), "003123456789")
	require.NoError(t, err)
	require.Equal(t, carrier.StatusDelivered, result.Status)
	require.Equal(t, "İstanbul", result.Location)
	require.Equal(t, "12345678901", result.AliasTrackingNumber)
	require.NotNil(t, result.StatusTime)
	require.Len(t, result.Events, 2)
}

func TestAFSTrackOutForDelivery(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sonuc":"1","durum":"Dağıtımda","yer":"Ankara"}`))
	}))
	defer server.Close()

	result, err := newAFSClient(server).Track(context.Background(), "MGS12345")
	require.NoError(t, err)
	require.Equal(t, carrier.StatusOutForDelivery, result.Status)
}

func TestAFSTrackUnknownTextStaysUnknown(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sonuc":"1","durum":"Depoda bekliyor olabilir"}`))
	}))
	defer server.Close()

	result, err := newAFSClient(server).Track(context.Background(), "MGS12345")
	require.NoError(t, err)
	require.Equal(t, carrier.StatusUnknown, result.Status)
}

func TestAFSTrackMissingRecordMeansNotFound(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sonuc":"0","mesaj":"Kayıt bulunamadı"}`))
	}))
	defer server.Close()

	result, err := newAFSClient(server).Track(context.Background(), "MGS00000")
	require.NoError(t, err)
	require.Equal(t, carrier.StatusNotFound, result.Status)
}

func TestAFSTrackOtherRejectionBecomesError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"sonuc":"0","mesaj":"Kullanıcı doğrulanamadı"}`))
	}))
	defer server.Close()

	result, err := newAFSClient(server).Track(context.Background(), "MGS12345")
	require.NoError(t, err)
	require.Equal(t, carrier.StatusError, result.Status)
}

func TestAFSCreateWaybill(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.Contains(t, string(body), `"islem":"kargo_kabul"`)
		_, _ = w.Write([]byte(`{"barkod":"003123456789","etiket_url":"https://afs.example.com/etiket/003123456789.pdf"}`))
	}))
	defer server.Close()

	waybill, err := newAFSClient(server).CreateWaybill(context.Background(), "003123456789")
	require.NoError(t, err)
	require.Equal(t, "003123456789", waybill.Barkod)
	require.Contains(t, waybill.LabelURL, ".pdf")
}
