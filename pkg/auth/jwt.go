package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var ErrNoJWTSecret = errors.New("JWT_SECRET_KEY not configured")

const tokenIssuer = "whatsapp-forward-bot"

// OperatorClaims identify the holder of an operator token
type OperatorClaims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// GenerateOperatorToken signs an HS256 token for subject. A ttl of zero
// or less issues a token without expiry.
func GenerateOperatorToken(secret string, subject string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, ErrNoJWTSecret
	}
	now := time.Now()
	claims := OperatorClaims{
		Scope: "operator",
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	var expires time.Time
	if ttl > 0 {
		expires = now.Add(ttl)
		claims.ExpiresAt = jwt.NewNumericDate(expires)
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

func ValidateOperatorToken(secret string, tokenString string) (*OperatorClaims, error) {
	if secret == "" {
		return nil, ErrNoJWTSecret
	}
	token, err := jwt.ParseWithClaims(tokenString, &OperatorClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid || claims.Scope != "operator" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
