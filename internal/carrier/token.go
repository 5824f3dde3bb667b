package carrier

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/parcelhub/backend-tracking/internal/obs"
)

// Doer executes an outbound HTTP request. resilience.HTTPClient satisfies it.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// AuthError reports a credential or token failure at a carrier's OAuth
// endpoint. Adapters convert it into an ERROR result instead of failing the
// batch loop.
type AuthError struct {
	Carrier    Tag
	StatusCode int
	Body       string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("carrier %s: token request rejected with status %d", e.Carrier, e.StatusCode)
}

// defaultTokenMargin is how long before declared expiry a cached token is
// considered stale.
const defaultTokenMargin = 60 * time.Second

// TokenProvider owns the OAuth client-credentials lifecycle for one carrier
// account. The access token is cached process-wide and reused until shortly
// before its declared expiry; concurrent refreshes collapse into a single
// request via singleflight.
type TokenProvider struct {
	Carrier      Tag
	HTTP         Doer
	TokenURL     string
	ClientID     string
	ClientSecret string
	Margin       time.Duration
	Logger       *zerolog.Logger
	Now          func() time.Time

	mu        sync.Mutex
	group     singleflight.Group
	token     string
	expiresAt time.Time
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	TokenType   string      `json:"token_type"`
	ExpiresIn   json.Number `json:"expires_in"`
}

// Token returns a valid access token, refreshing it when the cached one is
// missing or within the safety margin of expiry.
func (p *TokenProvider) Token(ctx context.Context) (string, error) {
	if cached, ok := p.cached(); ok {
		return cached, nil
	}
	value, err, _ := p.group.Do("refresh", func() (any, error) {
		// A concurrent caller may have refreshed while we queued.
		if cached, ok := p.cached(); ok {
			return cached, nil
		}
		return p.refresh(ctx)
	})
	if err != nil {
		return "", err
	}
	token, _ := value.(string)
	return token, nil
}

// Invalidate drops the cached token, forcing the next caller to refresh.
func (p *TokenProvider) Invalidate() {
	p.mu.Lock()
	p.token = ""
	p.expiresAt = time.Time{}
	p.mu.Unlock()
}

func (p *TokenProvider) cached() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token == "" {
		return "", false
	}
	if p.now().After(p.expiresAt.Add(-p.margin())) {
		return "", false
	}
	return p.token, true
}

func (p *TokenProvider) refresh(ctx context.Context) (string, error) {
	if p.HTTP == nil {
		return "", fmt.Errorf("carrier %s: token http client not configured", p.Carrier)
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("carrier %s: build token request: %w", p.Carrier, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(p.ClientID, p.ClientSecret)

	resp, err := p.HTTP.Do(ctx, req)
	if err != nil {
		p.observe("transport_error")
		return "", fmt.Errorf("carrier %s: token request: %w", p.Carrier, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		p.observe("transport_error")
		return "", fmt.Errorf("carrier %s: read token response: %w", p.Carrier, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.observe("rejected")
		return "", &AuthError{Carrier: p.Carrier, StatusCode: resp.StatusCode, Body: string(body)}
	}
	var payload tokenResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		p.observe("parse_error")
		return "", fmt.Errorf("carrier %s: decode token response: %w", p.Carrier, err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		p.observe("parse_error")
		return "", fmt.Errorf("carrier %s: token response missing access_token", p.Carrier)
	}
	ttl := p.tokenTTL(payload.ExpiresIn)

	p.mu.Lock()
	p.token = payload.AccessToken
	p.expiresAt = p.now().Add(ttl)
	p.mu.Unlock()

	p.observe("success")
	if p.Logger != nil {
		p.Logger.Debug().Str("carrier", string(p.Carrier)).Dur("ttl", ttl).Msg("carrier token refreshed")
	}
	return payload.AccessToken, nil
}

func (p *TokenProvider) tokenTTL(expiresIn json.Number) time.Duration {
	seconds, err := expiresIn.Int64()
	if err != nil || seconds <= 0 {
		// Carriers occasionally omit expires_in; fall back to a short TTL so
		// a bad guess only costs an extra refresh.
		return 5 * time.Minute
	}
	return time.Duration(seconds) * time.Second
}

func (p *TokenProvider) margin() time.Duration {
	if p.Margin > 0 {
		return p.Margin
	}
	return defaultTokenMargin
}

func (p *TokenProvider) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *TokenProvider) observe(result string) {
	if obs.CarrierTokenRefreshTotal != nil {
		obs.CarrierTokenRefreshTotal.WithLabelValues(strings.ToLower(string(p.Carrier)), result).Inc()
	}
}
