package platform

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// refreshMargin renews a cached token this long before it expires
const refreshMargin = time.Minute

// DeviceClaims identify this sensor to the backend
type DeviceClaims struct {
	DeviceName string `json:"name"`
	jwt.RegisteredClaims
}

// TokenSource signs and caches short-lived HS256 device tokens
type TokenSource struct {
	secret   []byte
	deviceID string
	name     string
	ttl      time.Duration
	now      func() time.Time

	mu     sync.Mutex
	token  string
	expiry time.Time
}

// NewTokenSource returns nil when secret is empty, meaning no auth is sent
func NewTokenSource(secret, deviceID, name string, ttl time.Duration) *TokenSource {
	if secret == "" {
		return nil
	}
	return &TokenSource{
		secret:   []byte(secret),
		deviceID: deviceID,
		name:     name,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Token returns a valid signed token, reusing the cached one when it is not
// close to expiry
func (t *TokenSource) Token() (string, error) {
	if t == nil {
		return "", errors.New("no device secret configured")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if t.token != "" && now.Add(refreshMargin).Before(t.expiry) {
		return t.token, nil
	}

	expiry := now.Add(t.ttl)
	claims := DeviceClaims{
		DeviceName: t.name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   t.deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiry),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", err
	}
	t.token = signed
	t.expiry = expiry
	return signed, nil
}

// Header returns handshake headers for the persistent channel. A nil source
// yields an empty header.
func (t *TokenSource) Header() (http.Header, error) {
	header := http.Header{}
	if t == nil {
		return header, nil
	}
	token, err := t.Token()
	if err != nil {
		return nil, err
	}
	header.Set("Authorization", "Bearer "+token)
	header.Set("X-Device-ID", t.deviceID)
	return header, nil
}
