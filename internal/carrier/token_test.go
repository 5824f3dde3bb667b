package carrier_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parcelhub/backend-tracking/internal/carrier"
)

type passthroughDoer struct{ client *http.Client }

func (d passthroughDoer) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	return d.client.Do(req.WithContext(ctx))
}

func TestTokenIsCachedUntilExpiry(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client-id", user)
		require.Equal(t, "client-secret", pass)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	provider := &carrier.TokenProvider{
		Carrier:      carrier.TagUPS,
		HTTP:         passthroughDoer{client: server.Client()},
		TokenURL:     server.URL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
	}

	for i := 0; i < 3; i++ {
		token, err := provider.Token(context.Background())
		require.NoError(t, err)
		require.Equal(t, "tok-1", token)
	}
	require.EqualValues(t, 1, refreshes.Load(), "cached token must be reused")
}

func TestTokenRefreshesInsideExpiryMargin(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":90}`))
	}))
	defer server.Close()

	now := time.Now()
	provider := &carrier.TokenProvider{
		Carrier:      carrier.TagFedEx,
		HTTP:         passthroughDoer{client: server.Client()},
		TokenURL:     server.URL,
		ClientID:     "id",
		ClientSecret: "secret",
		Margin:       time.Minute,
		Now:          func() time.Time { return now },
	}

	_, err := provider.Token(context.Background())
	require.NoError(t, err)

	// 40s later the 90s token is within the 60s margin and must refresh.
	now = now.Add(40 * time.Second)
	_, err = provider.Token(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, refreshes.Load())
}

func TestTokenConcurrentCallersShareOneRefresh(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	gate := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		<-gate
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer server.Close()

	provider := &carrier.TokenProvider{
		Carrier:      carrier.TagUPS,
		HTTP:         passthroughDoer{client: server.Client()},
		TokenURL:     server.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := provider.Token(context.Background())
			require.NoError(t, err)
			require.Equal(t, "tok", token)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(gate)
	wg.Wait()
	require.EqualValues(t, 1, refreshes.Load(), "concurrent refreshes must collapse into one")
}

func TestTokenRejectionReturnsAuthError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	provider := &carrier.TokenProvider{
		Carrier:      carrier.TagUPS,
		HTTP:         passthroughDoer{client: server.Client()},
		TokenURL:     server.URL,
		ClientID:     "bad",
		ClientSecret: "bad",
	}

	_, err := provider.Token(context.Background())
	var authErr *carrier.AuthError
	require.ErrorAs(t, err, &authErr)
	require.Equal(t, http.StatusUnauthorized, authErr.StatusCode)
	require.Equal(t, carrier.TagUPS, authErr.Carrier)
}

func TestInvalidateForcesRefresh(t *testing.T) {
	t.Parallel()

	var refreshes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":3600}`))
	}))
	defer server.Close()

	provider := &carrier.TokenProvider{
		Carrier:      carrier.TagUPS,
		HTTP:         passthroughDoer{client: server.Client()},
		TokenURL:     server.URL,
		ClientID:     "id",
		ClientSecret: "secret",
	}

	_, err := provider.Token(context.Background())
	require.NoError(t, err)
	provider.Invalidate()
	_, err = provider.Token(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 2, refreshes.Load())
}
