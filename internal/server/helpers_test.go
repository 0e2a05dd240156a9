package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	auditrepo "github.com/stencilflow/stencilflow/internal/audit/repository"
	auditservice "github.com/stencilflow/stencilflow/internal/audit/service"
	"github.com/stencilflow/stencilflow/internal/authorization"
	billingrepo "github.com/stencilflow/stencilflow/internal/billing/repository"
	billingservice "github.com/stencilflow/stencilflow/internal/billing/service"
	"github.com/stencilflow/stencilflow/internal/billing/stripe"
	"github.com/stencilflow/stencilflow/internal/clock"
	"github.com/stencilflow/stencilflow/internal/config"
	"github.com/stencilflow/stencilflow/internal/identity"
	inviterepo "github.com/stencilflow/stencilflow/internal/invite/repository"
	inviteservice "github.com/stencilflow/stencilflow/internal/invite/service"
	membershiprepo "github.com/stencilflow/stencilflow/internal/membership/repository"
	membershipservice "github.com/stencilflow/stencilflow/internal/membership/service"
	"github.com/stencilflow/stencilflow/internal/observability"
	obsmetrics "github.com/stencilflow/stencilflow/internal/observability/metrics"
	orgrepo "github.com/stencilflow/stencilflow/internal/organization/repository"
	orgservice "github.com/stencilflow/stencilflow/internal/organization/service"
	"github.com/stencilflow/stencilflow/internal/providers/email"
	"github.com/stencilflow/stencilflow/internal/providers/imagegen"
	"github.com/stencilflow/stencilflow/internal/ratelimit"
	"github.com/stencilflow/stencilflow/internal/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

const (
	testJWTSecret     = "server-test-secret"
	testWebhookSecret = "whsec_server_test"
	testAdminID       = "root"
)

type testServer struct {
	t        *testing.T
	db       *gorm.DB
	clock    *clock.FakeClock
	server   *Server
	registry *prometheus.Registry
}

type testOption func(*ServerParams)

func withImageGen(p imagegen.Provider) testOption {
	return func(sp *ServerParams) { sp.ImageGen = p }
}

func newTestServer(t *testing.T, opts ...testOption) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.NewDB(t)
	log := zaptest.NewLogger(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC))
	policy := config.NewStaticPolicyHolder(config.DefaultPolicyConfig())

	cfg := config.Config{
		PublicURL: "https://app.stencilflow.test",
		Identity: config.IdentityConfig{
			JWTSecret:    testJWTSecret,
			AdminUserIDs: []string{testAdminID},
		},
		RateLimit: config.RateLimitConfig{Enabled: true, KeyPrefix: "rl"},
		Billing: config.BillingConfig{
			StripeWebhookSecret: testWebhookSecret,
			WebhookTolerance:    5 * time.Minute,
			PriceTiers:          map[string]string{"enterprise_monthly": "enterprise"},
		},
	}

	auditSvc := auditservice.NewService(auditservice.Params{
		Log:   log,
		GenID: node,
		Clock: clk,
		Repo:  auditrepo.NewRepository(db),
	})
	members := membershiprepo.NewRepository(db)
	orgs := orgrepo.NewRepository(db)
	membershipSvc := membershipservice.NewService(membershipservice.Params{
		DB:       db,
		Log:      log,
		Clock:    clk,
		Repo:     members,
		AuditSvc: auditSvc,
	})
	organizationSvc := orgservice.NewService(orgservice.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Repo:     orgs,
		Members:  members,
		AuditSvc: auditSvc,
	})
	inviteSvc := inviteservice.NewService(inviteservice.Params{
		DB:       db,
		Log:      log,
		Cfg:      cfg,
		GenID:    node,
		Clock:    clk,
		Policy:   policy,
		Repo:     inviterepo.NewRepository(db),
		Members:  members,
		Orgs:     orgs,
		Email:    &email.NoOpProvider{},
		AuditSvc: auditSvc,
	})
	billingSvc := billingservice.NewService(billingservice.Params{
		DB:       db,
		Log:      log,
		Cfg:      cfg,
		GenID:    node,
		Clock:    clk,
		Repo:     billingrepo.NewRepository(db),
		Orgs:     orgs,
		AuditSvc: auditSvc,
	})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authzSvc := authorization.NewService(authorization.Params{
		Log:      log,
		Enforcer: enforcer,
		Roles:    membershipSvc,
		AuditSvc: auditSvc,
	})

	registry := prometheus.NewRegistry()
	httpMetrics, err := obsmetrics.NewHTTPMetrics(obsmetrics.Config{ServiceName: "stencilflow-test"}, registry)
	require.NoError(t, err)

	params := ServerParams{
		Gin:             NewEngine(observability.Config{Environment: "test"}, httpMetrics, registry),
		Cfg:             cfg,
		Log:             log,
		Policy:          policy,
		Verifier:        identity.NewVerifier(cfg, clk),
		Gate:            identity.NewGate(cfg, membershipSvc, log),
		AuthzSvc:        authzSvc,
		AuditSvc:        auditSvc,
		OrganizationSvc: organizationSvc,
		MembershipSvc:   membershipSvc,
		InviteSvc:       inviteSvc,
		BillingSvc:      billingSvc,
		ImageGen:        imagegen.NoOpProvider{},
		Limiter:         ratelimit.NewMemoryLimiter(clk),
	}
	for _, opt := range opts {
		opt(&params)
	}

	return &testServer{t: t, db: db, clock: clk, server: NewServer(params), registry: registry}
}

// token signs a session the way the identity provider would, valid for an hour of fake time.
func (ts *testServer) token(userID string) string {
	ts.t.Helper()
	claims := identity.Claims{
		Email: userID + "@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(ts.clock.Now()),
			ExpiresAt: jwt.NewNumericDate(ts.clock.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	require.NoError(ts.t, err)
	return signed
}

func (ts *testServer) do(method, path, userID string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(ts.t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+ts.token(userID))
	}
	return ts.serve(req)
}

func (ts *testServer) rawPost(path, payload, signature string) *httptest.ResponseRecorder {
	ts.t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(stripe.SignatureHeader, signature)
	return ts.serve(req)
}

func (ts *testServer) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	ts.server.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorType(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	return decode[errorResponse](t, rec).Error.Type
}
