package routes

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/any-hub/quicksilver/internal/cache"
)

// CacheAdmin 是诊断接口依赖的网关能力，*cache.Gateway 满足该接口。
type CacheAdmin interface {
	Status(ctx context.Context, rawURL string) (cache.StatusReport, error)
	Stats() cache.Stats
	Purge(ctx context.Context) error
	Maintain(ctx context.Context) []cache.Key
}

// RegisterCacheRoutes 暴露 /-/cache 诊断与运维接口：状态查询、计数、清空、
// 手动淘汰以及旁路开关。bypass 为 nil 时不注册开关相关路由。
func RegisterCacheRoutes(app *fiber.App, admin CacheAdmin, bypass *cache.Switch) {
	if app == nil || admin == nil {
		return
	}

	app.Get("/-/cache/status", func(c fiber.Ctx) error {
		raw := strings.TrimSpace(c.Query("url"))
		if raw == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "url_required"})
		}
		report, err := admin.Status(c.Context(), raw)
		if err != nil {
			if errors.Is(err, cache.ErrMalformedRequest) {
				return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_url"})
			}
			return err
		}
		return c.JSON(report)
	})

	app.Get("/-/cache/stats", func(c fiber.Ctx) error {
		return c.JSON(admin.Stats())
	})

	app.Post("/-/cache/purge", func(c fiber.Ctx) error {
		if err := admin.Purge(c.Context()); err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "purge_failed"})
		}
		return c.JSON(fiber.Map{"purged": true})
	})

	app.Post("/-/cache/maintain", func(c fiber.Ctx) error {
		evicted := admin.Maintain(c.Context())
		keys := make([]string, 0, len(evicted))
		for _, key := range evicted {
			keys = append(keys, string(key))
		}
		return c.JSON(fiber.Map{"evicted": len(keys), "keys": keys})
	})

	if bypass == nil {
		return
	}
	app.Get("/-/cache/bypass", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"bypass": bypass.Active()})
	})
	app.Put("/-/cache/bypass", func(c fiber.Ctx) error {
		bypass.Set(true)
		return c.JSON(fiber.Map{"bypass": true})
	})
	app.Delete("/-/cache/bypass", func(c fiber.Ctx) error {
		bypass.Set(false)
		return c.JSON(fiber.Map{"bypass": false})
	})
}
