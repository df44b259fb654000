package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/code-batch-engine/internal/domain"
	"github.com/kursadbilgin/code-batch-engine/internal/observability"
	"github.com/kursadbilgin/code-batch-engine/internal/ratelimit"
	"go.uber.org/zap"
)

// PrincipalHeader carries the caller id resolved by the upstream auth layer.
const PrincipalHeader = "X-Principal-ID"

const (
	principalLocalsKey = "principalId"
	maxPrincipalLength = 128
)

// PermissionChecker decides whether an authenticated principal may manage
// code batches.
type PermissionChecker interface {
	CanManageBatches(ctx context.Context, principalID string) (bool, error)
}

// StaticPermissions grants access to a fixed set of principals. An empty set
// admits every authenticated principal.
type StaticPermissions struct {
	allowed map[string]struct{}
}

func NewStaticPermissions(principalIDs []string) *StaticPermissions {
	allowed := make(map[string]struct{}, len(principalIDs))
	for _, id := range principalIDs {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &StaticPermissions{allowed: allowed}
}

func (p *StaticPermissions) CanManageBatches(_ context.Context, principalID string) (bool, error) {
	if len(p.allowed) == 0 {
		return true, nil
	}
	_, ok := p.allowed[principalID]
	return ok, nil
}

// PrincipalMiddleware rejects requests without a principal (401) or whose
// principal fails the permission check (403).
func PrincipalMiddleware(permissions PermissionChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principalID := strings.TrimSpace(c.Get(PrincipalHeader))
		if principalID == "" || len(principalID) > maxPrincipalLength {
			return toHTTPError(fmt.Errorf("%w: %s header is required", domain.ErrUnauthenticated, PrincipalHeader))
		}

		if permissions != nil {
			allowed, err := permissions.CanManageBatches(c.UserContext(), principalID)
			if err != nil {
				return fmt.Errorf("permission check failed: %w", err)
			}
			if !allowed {
				return toHTTPError(fmt.Errorf("%w: principal may not manage code batches", domain.ErrPermissionDenied))
			}
		}

		c.Locals(principalLocalsKey, principalID)
		return c.Next()
	}
}

// RateLimitMiddleware throttles a principal's mutating requests. Limiter
// outages fail open.
func RateLimitMiddleware(limiter ratelimit.RateLimiter, logger *zap.Logger) fiber.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	return func(c *fiber.Ctx) error {
		if limiter == nil {
			return c.Next()
		}

		allowed, err := limiter.Allow(c.UserContext(), "principal:"+principalID(c))
		if err != nil {
			observability.ContextLogger(c.UserContext(), logger).Warn("rate limiter unavailable, allowing request",
				zap.String("path", c.Path()),
				zap.Error(err),
			)
			return c.Next()
		}
		if !allowed {
			return toHTTPError(fmt.Errorf("%w: too many requests", domain.ErrRateLimited))
		}
		return c.Next()
	}
}

func principalID(c *fiber.Ctx) string {
	if value, ok := c.Locals(principalLocalsKey).(string); ok {
		return value
	}
	return ""
}
