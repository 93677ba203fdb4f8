package escalation

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ApprovalClaims binds an approval token to one action on one group. A token
// for a different group or action type never authorizes execution.
type ApprovalClaims struct {
	GroupID    string `json:"grp"`
	ActionType string `json:"act"`
	Target     string `json:"tgt"`
	ApprovedBy string `json:"sub_name,omitempty"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies approval tokens with an HMAC signing key.
type TokenIssuer struct {
	key []byte
	now func() time.Time
}

// NewTokenIssuer builds an issuer; the key comes from configuration and is
// required, approvals cannot work with an empty key.
func NewTokenIssuer(signingKey string) (*TokenIssuer, error) {
	if signingKey == "" {
		return nil, errors.New("approval signing key is required")
	}
	return &TokenIssuer{key: []byte(signingKey), now: time.Now}, nil
}

// Issue mints a token authorizing one action on one group, valid for ttl.
func (t *TokenIssuer) Issue(groupID, actionType, target, approvedBy string, ttl time.Duration) (string, error) {
	now := t.now()
	claims := ApprovalClaims{
		GroupID:    groupID,
		ActionType: actionType,
		Target:     target,
		ApprovedBy: approvedBy,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "fusiond",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Verify parses and validates a token, checking it matches the given group
// and action type.
func (t *TokenIssuer) Verify(token, groupID, actionType string) (*ApprovalClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &ApprovalClaims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", tok.Header["alg"])
		}
		return t.key, nil
	}, jwt.WithTimeFunc(func() time.Time { return t.now() }))
	if err != nil {
		return nil, fmt.Errorf("invalid approval token: %w", err)
	}

	claims, ok := parsed.Claims.(*ApprovalClaims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid approval token claims")
	}
	if claims.GroupID != groupID {
		return nil, fmt.Errorf("approval token issued for group %s, not %s", claims.GroupID, groupID)
	}
	if claims.ActionType != actionType {
		return nil, fmt.Errorf("approval token issued for action %s, not %s", claims.ActionType, actionType)
	}
	return claims, nil
}
