package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DeviceClaims are the claims carried by a scanning device's bearer token.
type DeviceClaims struct {
	DeviceID string `json:"device_id"`
	jwt.RegisteredClaims
}

type deviceIDKey struct{}

// DeviceIDFromContext returns the authenticated device ID placed in the
// request context by NewDeviceAuth.
func DeviceIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(deviceIDKey{}).(string)
	return id, ok && id != ""
}

// IssueDeviceToken signs an HS256 token for deviceID valid for ttl.
// A zero ttl produces a token without an expiry.
func IssueDeviceToken(secret []byte, deviceID string, ttl time.Duration) (string, error) {
	if deviceID == "" {
		return "", errors.New("middleware.IssueDeviceToken: device id is required")
	}
	now := time.Now()
	claims := DeviceClaims{
		DeviceID: deviceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   deviceID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("middleware.IssueDeviceToken: %w", err)
	}
	return signed, nil
}

// ParseDeviceToken verifies raw against secret and returns its claims.
func ParseDeviceToken(secret []byte, raw string) (*DeviceClaims, error) {
	token, err := jwt.ParseWithClaims(raw, &DeviceClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*DeviceClaims)
	if !ok || !token.Valid || claims.DeviceID == "" {
		return nil, jwt.ErrTokenMalformed
	}
	return claims, nil
}

// NewDeviceAuth returns a middleware that requires a valid device bearer
// token. Requests without one are rejected with 401; on success the device
// ID is available through DeviceIDFromContext.
func NewDeviceAuth(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || strings.TrimSpace(raw) == "" {
				writeUnauthorized(w, "bearer token required")
				return
			}
			claims, err := ParseDeviceToken(secret, strings.TrimSpace(raw))
			if err != nil {
				writeUnauthorized(w, "invalid device token")
				return
			}
			ctx := context.WithValue(r.Context(), deviceIDKey{}, claims.DeviceID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="scanner"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"code": "unauthorized", "message": msg},
	})
}
