package utils

import (
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	tokenKindSession = "session"
	tokenKindAdmin   = "admin"
	tokenIssuer      = "tablesync"
)

// SessionClaims is carried by a diner's ws_token. Subject is the member pid.
type SessionClaims struct {
	SessionPID string `json:"sid"`
	DeviceID   string `json:"dev"`
	Kind       string `json:"kind"`
	jwt.RegisteredClaims
}

// AdminClaims is carried by a staff token. Subject is the staff user id.
type AdminClaims struct {
	RestaurantID uint   `json:"rid"`
	Role         string `json:"role"`
	Kind         string `json:"kind"`
	jwt.RegisteredClaims
}

func (c *AdminClaims) StaffID() uint {
	id, _ := strconv.ParseUint(c.Subject, 10, 64)
	return uint(id)
}

// TokenIssuer signs and verifies HS256 tokens. Verification needs no
// database access.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

// WithClock replaces the time source, used by tests.
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	t.now = now
	return t
}

// EncodeSessionToken issues {sub, sid, dev, iat, exp}.
func (t *TokenIssuer) EncodeSessionToken(memberPID, sessionPID, deviceID string, ttl time.Duration) (string, time.Time, error) {
	now := t.now().UTC()
	exp := now.Add(ttl)
	claims := &SessionClaims{
		SessionPID: sessionPID,
		DeviceID:   deviceID,
		Kind:       tokenKindSession,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   memberPID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// DecodeSessionToken returns nil for any malformed, forged, expired or
// non-session token.
func (t *TokenIssuer) DecodeSessionToken(raw string) *SessionClaims {
	claims := &SessionClaims{}
	if !t.parse(raw, claims) || claims.Kind != tokenKindSession || claims.Subject == "" || claims.SessionPID == "" {
		return nil
	}
	return claims
}

// IsNearExpiry reports whether a valid session token expires within window.
func (t *TokenIssuer) IsNearExpiry(raw string, window time.Duration) bool {
	claims := t.DecodeSessionToken(raw)
	if claims == nil || claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Sub(t.now()) <= window
}

func (t *TokenIssuer) EncodeAdminToken(staffID, restaurantID uint, role string, ttl time.Duration) (string, error) {
	now := t.now().UTC()
	claims := &AdminClaims{
		RestaurantID: restaurantID,
		Role:         role,
		Kind:         tokenKindAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatUint(uint64(staffID), 10),
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
}

func (t *TokenIssuer) DecodeAdminToken(raw string) *AdminClaims {
	claims := &AdminClaims{}
	if !t.parse(raw, claims) || claims.Kind != tokenKindAdmin || claims.RestaurantID == 0 {
		return nil
	}
	return claims
}

func (t *TokenIssuer) parse(raw string, claims jwt.Claims) bool {
	if raw == "" {
		return false
	}
	token, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	return err == nil && token.Valid
}
