package backend

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/sma-kiosk-agent/pkg/config"
)

// TokenProvider mints the device-identity JWT the agent presents to the
// backend. Tokens are cached and refreshed shortly before expiry.
type TokenProvider struct {
	backend config.BackendConfig
	device  config.DeviceConfig

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// NewTokenProvider builds a provider for the configured device.
func NewTokenProvider(backend config.BackendConfig, device config.DeviceConfig) *TokenProvider {
	return &TokenProvider{backend: backend, device: device}
}

// Token returns a valid signed token, minting a fresh one when the
// cached token is within 30 seconds of expiry.
func (p *TokenProvider) Token() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && time.Now().Before(p.expiresAt.Add(-30*time.Second)) {
		return p.token, nil
	}

	now := time.Now()
	expiresAt := now.Add(p.backend.TokenTTL)
	claims := jwt.MapClaims{
		"device_id": p.device.DeviceID,
		"gate_id":   p.device.GateID,
		"iat":       now.Unix(),
		"exp":       expiresAt.Unix(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(p.backend.TokenSecret))
	if err != nil {
		return "", fmt.Errorf("sign device token: %w", err)
	}

	p.token = signed
	p.expiresAt = expiresAt
	return signed, nil
}
