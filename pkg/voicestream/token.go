package voicestream

import (
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const apiKeyMinLength = 32

// StreamToken is a short-lived signed token presented when dialing the
// endpoint. ExpiresAt is unix milliseconds.
type StreamToken struct {
	Token     string `json:"token"`
	ExpiresAt int64  `json:"expires_at"`
}

// Expired reports whether the token is past its expiry.
func (t *StreamToken) Expired() bool {
	return time.Now().UnixMilli() > t.ExpiresAt
}

// TTL returns the remaining token lifetime, floored at zero.
func (t *StreamToken) TTL() time.Duration {
	remaining := time.Until(time.UnixMilli(t.ExpiresAt))
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ValidateAPIKeyFormat rejects keys that are too short to be real before any
// signing work happens.
func ValidateAPIKeyFormat(apiKey string) error {
	if len(apiKey) < apiKeyMinLength {
		return NewStreamError("API key too short", ErrCodeConfigInvalid)
	}
	return nil
}

// GenerateStreamToken signs a stream token with the API key. Only a key
// prefix goes into the claims; the full key never leaves the process.
func GenerateStreamToken(apiKey string, ttl time.Duration) (*StreamToken, error) {
	if err := ValidateAPIKeyFormat(apiKey); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(ttl)
	claims := jwt.MapClaims{
		"key": keyPrefix(apiKey),
		"jti": uuid.NewString(),
		"iat": time.Now().Unix(),
		"exp": expiresAt.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(apiKey))
	if err != nil {
		return nil, WrapStreamError(err, "failed to sign stream token", ErrCodeTokenGeneration)
	}

	return &StreamToken{
		Token:     signed,
		ExpiresAt: expiresAt.UnixMilli(),
	}, nil
}

// DecodeStreamToken verifies a token against the API key and returns its
// claims. Used by tests and by servers that share the key.
func DecodeStreamToken(token, apiKey string) (map[string]interface{}, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(apiKey), nil
	})
	if err != nil {
		return nil, WrapStreamError(err, "failed to decode stream token", ErrCodeTokenGeneration)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return nil, NewStreamError("invalid stream token", ErrCodeTokenGeneration)
	}
	return map[string]interface{}(claims), nil
}

func keyPrefix(apiKey string) string {
	if len(apiKey) <= 8 {
		return apiKey
	}
	return apiKey[:8] + "..."
}

// TokenSource caches a signed token and renews it shortly before expiry, so
// reconnection storms do not re-sign on every dial.
type TokenSource struct {
	apiKey        string
	ttl           time.Duration
	refreshBuffer time.Duration

	mu     sync.Mutex
	cached *StreamToken
}

// NewTokenSource builds a caching source for the given key. refreshBuffer is
// how long before expiry a cached token is considered stale.
func NewTokenSource(apiKey string, ttl, refreshBuffer time.Duration) *TokenSource {
	return &TokenSource{
		apiKey:        strings.TrimSpace(apiKey),
		ttl:           ttl,
		refreshBuffer: refreshBuffer,
	}
}

// Token returns a valid token, renewing the cached one when it is within the
// refresh buffer of expiry.
func (ts *TokenSource) Token() (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	if ts.cached != nil && ts.cached.TTL() > ts.refreshBuffer {
		return ts.cached.Token, nil
	}

	token, err := GenerateStreamToken(ts.apiKey, ts.ttl)
	if err != nil {
		return "", err
	}
	ts.cached = token
	return token.Token, nil
}

// Invalidate drops the cached token so the next call re-signs.
func (ts *TokenSource) Invalidate() {
	ts.mu.Lock()
	ts.cached = nil
	ts.mu.Unlock()
}
