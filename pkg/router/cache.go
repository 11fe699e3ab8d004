package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cache"
)

// HttpCacheInMemory caches GET responses for ttl seconds. Authenticated
// requests and the status endpoint bypass the cache.
func HttpCacheInMemory(ttl int, bypass ...string) fiber.Handler {
	if ttl <= 0 {
		ttl = 5
	}
	return cache.New(cache.Config{
		Next: func(c *fiber.Ctx) bool {
			if c.Method() != fiber.MethodGet || c.Get(fiber.HeaderAuthorization) != "" || c.Get(HeaderAdminSecret) != "" {
				return true
			}
			for _, p := range bypass {
				if c.Path() == p {
					return true
				}
			}
			return false
		},
		Expiration:   time.Duration(ttl) * time.Second,
		CacheControl: true,
	})
}
