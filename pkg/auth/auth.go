// Package auth guards the admin and operator HTTP routes.
package auth

import (
	"time"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
)

type Config struct {
	// AdminSecret is compared against the X-Admin-Secret header
	AdminSecret string
	// JWTSecret signs operator tokens
	JWTSecret string
	TokenTTL  time.Duration
}

func ConfigFromEnv() Config {
	admin := env.GetEnvStringOrDefault("AUTH_ADMIN_SECRET", "")
	if admin == "" {
		admin = env.GetEnvStringOrDefault("ADMIN_SECRET_KEY", "")
	}
	return Config{
		AdminSecret: admin,
		JWTSecret:   env.GetEnvStringOrDefault("JWT_SECRET_KEY", ""),
		TokenTTL:    env.GetEnvDurationOrDefault("AUTH_TOKEN_TTL", 24*time.Hour),
	}
}
