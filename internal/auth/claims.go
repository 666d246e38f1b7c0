package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AgentClaims extends JWT standard claims with the agent's identity.
type AgentClaims struct {
	jwt.RegisteredClaims
	AgentID   string `json:"agent_id"`
	AgentType string `json:"agent_type"`
}

// GenerateAgentToken creates a signed JWT for an agent. Tokens are
// validated by signature only, so issuance is the single point where an
// agent's type is bound to its identity.
func GenerateAgentToken(agentID, agentType, secret string, ttlMinutes int) (string, error) {
	if ttlMinutes <= 0 {
		ttlMinutes = 60 //nolint:mnd // default 1-hour token TTL
	}

	now := time.Now()
	claims := AgentClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   agentID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(ttlMinutes) * time.Minute)),
			ID:        uuid.NewString(),
		},
		AgentID:   agentID,
		AgentType: agentType,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("signing agent token: %w", err)
	}
	return signed, nil
}

// ParseAgentToken validates and parses an agent token. It checks the
// signature, expiry and required claims.
func ParseAgentToken(tokenString, secret string) (*AgentClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AgentClaims{}, func(_ *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenInvalid, err)
	}

	claims, ok := token.Claims.(*AgentClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenInvalid
	}

	if claims.AgentID == "" {
		return nil, fmt.Errorf("%w: missing agent_id", ErrTokenInvalid)
	}
	if claims.AgentType == "" {
		return nil, fmt.Errorf("%w: missing agent_type", ErrTokenInvalid)
	}

	return claims, nil
}
