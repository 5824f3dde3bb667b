package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"

	"github.com/parcelhub/backend-tracking/internal/common"
)

// Middleware guards operational endpoints with a shared-secret JWT.
type Middleware struct {
	Secret    []byte
	Validator TokenValidator
	Now       func() time.Time
}

// RequireAdmin rejects requests without a valid bearer token.
func (m Middleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearer(r)
		if raw == "" {
			common.JSONError(w, http.StatusUnauthorized, common.CodeAuth, "missing bearer token", nil)
			return
		}
		algorithm := m.Validator.Algorithm
		if algorithm == "" {
			algorithm = jwa.HS256
		}
		tok, err := jwt.Parse([]byte(raw),
			jwt.WithKey(algorithm, m.Secret),
			jwt.WithValidate(false),
		)
		if err != nil {
			common.JSONError(w, http.StatusUnauthorized, common.CodeAuth, "invalid token", nil)
			return
		}
		now := time.Now()
		if m.Now != nil {
			now = m.Now()
		}
		if err := m.Validator.Validate(tok, tokenAlgorithm(raw), now); err != nil {
			common.JSONError(w, http.StatusUnauthorized, common.CodeAuth, "invalid token", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearer(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(header), "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

// tokenAlgorithm reads the alg header from the compact serialization so the
// validator can reject algorithm confusion.
func tokenAlgorithm(raw string) jwa.SignatureAlgorithm {
	message, err := jws.ParseString(raw)
	if err != nil {
		return ""
	}
	signatures := message.Signatures()
	if len(signatures) == 0 {
		return ""
	}
	return signatures[0].ProtectedHeaders().Algorithm()
}
