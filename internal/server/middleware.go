package server

import (
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/identity"
	obscontext "github.com/stencilflow/stencilflow/internal/observability/context"
	"github.com/stencilflow/stencilflow/internal/observability/logger"
	orgdomain "github.com/stencilflow/stencilflow/internal/organization/domain"
	"github.com/stencilflow/stencilflow/internal/ratelimit"
	"go.uber.org/zap"
)

const (
	contextKeyOrganization = "organization"

	headerRetryAfter         = "Retry-After"
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
)

// ResolveIdentity attaches the verified caller to the request context. It never
// rejects: routes that need a caller add RequireIdentity.
func (s *Server) ResolveIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := identity.TokenFromRequest(c.Request)
		if raw == "" || s.verifier == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		id, err := s.verifier.Verify(raw)
		if err != nil {
			logger.FromContext(ctx).Debug("session token rejected", zap.String("reason", err.Error()))
			c.Next()
			return
		}

		ctx = identity.WithIdentity(ctx, id)
		actorType := string(auditdomain.ActorTypeUser)
		if s.gate != nil && s.gate.IsAdmin(ctx) {
			actorType = string(auditdomain.ActorTypeAdmin)
		}
		ctx = obscontext.WithActor(ctx, actorType, id.UserID)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := identity.FromContext(c.Request.Context()); !ok {
			AbortWithError(c, identity.ErrUnauthenticated)
			return
		}
		c.Next()
	}
}

func (s *Server) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.gate == nil || !s.gate.IsAdmin(c.Request.Context()) {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// RateLimit counts the request against the named policy profile. Limiter failures
// let the request through.
func (s *Server) RateLimit(profile string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.cfg.RateLimit.Enabled || s.limiter == nil || s.policy == nil {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		policy, ok := s.policy.RateLimit(profile)
		if !ok {
			logger.FromContext(ctx).Warn("rate limit profile missing", zap.String("profile", profile))
			c.Next()
			return
		}

		key := ratelimit.Key(s.cfg.RateLimit.KeyPrefix, profile, ratelimit.GetRateLimitIdentifier(c.Request))
		result, err := s.limiter.Allow(ctx, key, policy.Limit, policy.Window())
		if err != nil {
			logger.FromContext(ctx).Warn("rate limiter unavailable, allowing request",
				zap.String("profile", profile),
				zap.Error(err),
			)
			c.Next()
			return
		}

		c.Header(headerRateLimitLimit, strconv.Itoa(result.Limit))
		c.Header(headerRateLimitRemaining, strconv.Itoa(result.Remaining))

		endpoint := c.FullPath()
		if !result.Allowed {
			c.Header(headerRetryAfter, strconv.Itoa(retryAfterSeconds(result)))
			s.obsMetrics.RecordRateLimitDenied(ctx, profile, endpoint)
			AbortWithError(c, ErrRateLimited)
			return
		}

		s.obsMetrics.RecordRateLimitAllowed(ctx, profile, endpoint)
		c.Next()
	}
}

func retryAfterSeconds(result ratelimit.Result) int {
	seconds := int(math.Ceil(result.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

// OrgAccess resolves :id and checks the caller's capability inside it. Outsiders and
// archived organizations get not found.
func (s *Server) OrgAccess(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, ok := identity.FromContext(ctx)
		if !ok {
			AbortWithError(c, identity.ErrUnauthenticated)
			return
		}

		orgID, err := parseOrganizationID(c.Param("id"))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		if err := s.authzSvc.Authorize(ctx, id.UserID, orgID, object, action); err != nil {
			AbortWithError(c, err)
			return
		}

		org, err := s.organizationSvc.GetByID(ctx, orgID)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Request = c.Request.WithContext(obscontext.WithOrgID(ctx, orgID.String()))
		c.Set(contextKeyOrganization, org)
		c.Next()
	}
}

func parseOrganizationID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, ErrNotFound
	}
	return id, nil
}

func caller(c *gin.Context) identity.Identity {
	id, _ := identity.FromContext(c.Request.Context())
	return id
}

func organizationFromContext(c *gin.Context) *orgdomain.Organization {
	value, ok := c.Get(contextKeyOrganization)
	if !ok {
		return nil
	}
	org, _ := value.(*orgdomain.Organization)
	return org
}
