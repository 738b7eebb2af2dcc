package transport

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// Claims is the signed payload a Transport attaches to heartbeat and
// approve_checkpoint envelopes: which execution the caller is acting on and
// which action they are authorized to perform, so a relay can't replay a
// heartbeat token as an approval or vice versa.
type Claims struct {
	ExecutionID string `json:"executionId,omitempty"`
	Action      string `json:"action"`
	jwt.RegisteredClaims
}

// TokenSigner signs and verifies envelope tokens with an HMAC secret:
// HS256, RegisteredClaims for issued-at/expiry.
type TokenSigner struct {
	secret []byte
	expiry time.Duration
}

// NewTokenSigner builds a signer. expiry <= 0 means tokens never expire.
func NewTokenSigner(secret string, expiry time.Duration) *TokenSigner {
	return &TokenSigner{secret: []byte(secret), expiry: expiry}
}

// Sign issues a token authorizing action against executionID.
func (s *TokenSigner) Sign(action Action, executionID string) (string, error) {
	if len(s.secret) == 0 {
		return "", kernel.NewError(kernel.KindTransportError, "transport: signing disabled (no secret configured)")
	}
	claims := Claims{
		ExecutionID: executionID,
		Action:      string(action),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(s.expiry))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", kernel.Wrap(kernel.KindTransportError, "sign envelope token", err)
	}
	return signed, nil
}

// Verify parses token and checks it authorizes action against executionID.
func (s *TokenSigner) Verify(token string, action Action, executionID string) (*Claims, error) {
	if len(s.secret) == 0 {
		return nil, kernel.NewError(kernel.KindTransportError, "transport: verification disabled (no secret configured)")
	}
	if strings.TrimSpace(token) == "" {
		return nil, kernel.NewError(kernel.KindPermissionDenied, "transport: "+string(action)+" requires a signed token")
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, kernel.Wrap(kernel.KindPermissionDenied, "transport: invalid token", err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, kernel.NewError(kernel.KindPermissionDenied, "transport: invalid token")
	}
	if claims.Action != string(action) {
		return nil, kernel.NewError(kernel.KindPermissionDenied, "transport: token authorizes "+claims.Action+", not "+string(action))
	}
	if executionID != "" && claims.ExecutionID != "" && claims.ExecutionID != executionID {
		return nil, kernel.NewError(kernel.KindPermissionDenied, "transport: token scoped to a different execution")
	}
	return claims, nil
}

// RequireAuthentication verifies e's token when its action demands one
// (heartbeat, approve_checkpoint). Actions that don't require a token pass
// through unchecked.
func (s *TokenSigner) RequireAuthentication(e Envelope) error {
	if !e.Action.requiresSignedToken() {
		return nil
	}
	_, err := s.Verify(e.Token, e.Action, e.ExecutionID)
	return err
}
