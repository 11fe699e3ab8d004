package router

import (
	"strconv"
	"strings"

	"github.com/gdbrns/go-whatsapp-forward-bot/pkg/env"
)

const defaultBodyLimit = 8 * 1024 * 1024

// Config holds the HTTP surface settings read at bootstrap
type Config struct {
	Address         string
	Port            string
	BaseURL         string
	CORSOrigin      string
	BodyLimit       int
	GZipLevel       int
	CacheTTLSeconds int
}

func ConfigFromEnv() Config {
	return Config{
		Address:         env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0"),
		Port:            env.GetEnvStringOrDefault("SERVER_PORT", "3000"),
		BaseURL:         NormalizeBaseURL(env.GetEnvStringOrDefault("HTTP_BASE_URL", "")),
		CORSOrigin:      env.GetEnvStringOrDefault("HTTP_CORS_ORIGIN", "*"),
		BodyLimit:       ParseBodyLimit(env.GetEnvStringOrDefault("HTTP_BODY_LIMIT_SIZE", "8M")),
		GZipLevel:       env.GetEnvIntOrDefault("HTTP_GZIP_LEVEL", 1),
		CacheTTLSeconds: env.GetEnvIntOrDefault("HTTP_CACHE_TTL_SECONDS", 5),
	}
}

func (c Config) ListenAddr() string {
	return c.Address + ":" + c.Port
}

// NormalizeBaseURL returns "" or a path with one leading and no trailing slash
func NormalizeBaseURL(base string) string {
	base = strings.Trim(strings.TrimSpace(base), "/")
	if base == "" {
		return ""
	}
	return "/" + base
}

// ParseBodyLimit accepts sizes like "512K", "8M" or "1G"
func ParseBodyLimit(limit string) int {
	limit = strings.TrimSpace(strings.ToUpper(limit))
	if limit == "" {
		return defaultBodyLimit
	}
	multiplier := 1
	switch {
	case strings.HasSuffix(limit, "K"):
		multiplier = 1024
		limit = strings.TrimSuffix(limit, "K")
	case strings.HasSuffix(limit, "M"):
		multiplier = 1024 * 1024
		limit = strings.TrimSuffix(limit, "M")
	case strings.HasSuffix(limit, "G"):
		multiplier = 1024 * 1024 * 1024
		limit = strings.TrimSuffix(limit, "G")
	}
	value, err := strconv.Atoi(strings.TrimSpace(limit))
	if err != nil || value <= 0 {
		return defaultBodyLimit
	}
	return value * multiplier
}
