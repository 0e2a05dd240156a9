package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stencilflow/stencilflow/internal/audit"
	auditdomain "github.com/stencilflow/stencilflow/internal/audit/domain"
	"github.com/stencilflow/stencilflow/internal/authorization"
	"github.com/stencilflow/stencilflow/internal/billing"
	billingdomain "github.com/stencilflow/stencilflow/internal/billing/domain"
	"github.com/stencilflow/stencilflow/internal/config"
	"github.com/stencilflow/stencilflow/internal/identity"
	"github.com/stencilflow/stencilflow/internal/invite"
	invitedomain "github.com/stencilflow/stencilflow/internal/invite/domain"
	"github.com/stencilflow/stencilflow/internal/membership"
	membershipdomain "github.com/stencilflow/stencilflow/internal/membership/domain"
	"github.com/stencilflow/stencilflow/internal/observability"
	obsmiddleware "github.com/stencilflow/stencilflow/internal/observability/logger"
	obsmetrics "github.com/stencilflow/stencilflow/internal/observability/metrics"
	obstracing "github.com/stencilflow/stencilflow/internal/observability/tracing"
	"github.com/stencilflow/stencilflow/internal/organization"
	orgdomain "github.com/stencilflow/stencilflow/internal/organization/domain"
	"github.com/stencilflow/stencilflow/internal/providers"
	"github.com/stencilflow/stencilflow/internal/providers/imagegen"
	"github.com/stencilflow/stencilflow/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var Module = fx.Module("http.server",
	identity.Module,
	audit.Module,
	membership.Module,
	organization.Module,
	invite.Module,
	authorization.Module,
	billing.Module,
	providers.Module,
	ratelimit.Module,
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(httpMetrics.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return r
}

func run(lc fx.Lifecycle, s *Server, cfg config.Config, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	policy          *config.PolicyHolder
	verifier        *identity.Verifier
	gate            *identity.Gate
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	organizationSvc orgdomain.Service
	membershipSvc   membershipdomain.Service
	inviteSvc       invitedomain.Service
	billingSvc      billingdomain.Service
	imageGen        imagegen.Provider
	limiter         ratelimit.Limiter
	obsMetrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Policy          *config.PolicyHolder
	Verifier        *identity.Verifier
	Gate            *identity.Gate
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	OrganizationSvc orgdomain.Service
	MembershipSvc   membershipdomain.Service
	InviteSvc       invitedomain.Service
	BillingSvc      billingdomain.Service
	ImageGen        imagegen.Provider
	Limiter         ratelimit.Limiter
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             log.Named("http.server"),
		policy:          p.Policy,
		verifier:        p.Verifier,
		gate:            p.Gate,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		organizationSvc: p.OrganizationSvc,
		membershipSvc:   p.MembershipSvc,
		inviteSvc:       p.InviteSvc,
		billingSvc:      p.BillingSvc,
		imageGen:        p.ImageGen,
		limiter:         p.Limiter,
		obsMetrics:      p.ObsMetrics,
	}

	svc.registerRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	api := s.engine.Group("", s.ResolveIdentity())

	mutations := s.RateLimit(config.RateLimitProfileMutations)
	authed := s.RequireIdentity()

	orgs := api.Group("/organizations")
	{
		orgs.GET("", authed, s.ListOrganizations)
		orgs.POST("", mutations, authed, s.CreateOrganization)
		orgs.GET("/:id", authed, s.OrgAccess(authorization.ObjectOrganization, authorization.ActionOrganizationView), s.GetOrganization)
		orgs.PATCH("/:id", mutations, authed, s.OrgAccess(authorization.ObjectOrganization, authorization.ActionOrganizationUpdate), s.UpdateOrganization)
		orgs.DELETE("/:id", mutations, authed, s.OrgAccess(authorization.ObjectOrganization, authorization.ActionOrganizationArchive), s.ArchiveOrganization)

		// Leave versus remove is decided per request once the target is known.
		orgs.GET("/:id/members", authed, s.OrgAccess(authorization.ObjectMember, authorization.ActionMemberView), s.ListMembers)
		orgs.DELETE("/:id/members", mutations, authed, s.OrgAccess(authorization.ObjectMember, authorization.ActionMemberView), s.RemoveMember)
		orgs.POST("/:id/owner", mutations, authed, s.OrgAccess(authorization.ObjectMember, authorization.ActionMemberTransfer), s.TransferOwnership)

		orgs.POST("/:id/invite", mutations, authed, s.OrgAccess(authorization.ObjectInvite, authorization.ActionInviteCreate), s.CreateInvite)
		orgs.GET("/:id/invite", authed, s.OrgAccess(authorization.ObjectInvite, authorization.ActionInviteView), s.ListInvites)
		orgs.DELETE("/:id/invite", mutations, authed, s.OrgAccess(authorization.ObjectInvite, authorization.ActionInviteCancel), s.CancelInvite)

		orgs.GET("/:id/audit-logs", authed, s.OrgAccess(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
	}

	invites := api.Group("/invites")
	{
		invites.GET("/:token", s.RateLimit(config.RateLimitProfileInvitePublic), s.GetInvite)
		invites.POST("/:token", mutations, authed, s.AcceptInvite)
	}

	admin := api.Group("/admin", authed, s.RequireAdmin())
	{
		admin.GET("/organizations", s.AdminListOrganizations)
	}

	// Signed by the provider; no session involved.
	api.POST("/billing/webhooks/stripe", s.HandleStripeWebhook)

	tools := api.Group("/tools", s.RateLimit(config.RateLimitProfileTools), authed)
	{
		tools.POST("/split-image", s.SplitImage)
		tools.POST("/generate", s.GenerateImage)
	}
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
