package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicmesh/civicmesh/internal/auth"
)

func tenantEchoRouter(defaultTenant string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/echo", ResolveTenant(defaultTenant), func(c *gin.Context) {
		c.String(http.StatusOK, TenantID(c))
	})
	return r
}

func TestResolveTenant_HeaderWins(t *testing.T) {
	r := tenantEchoRouter("fallback")

	req := httptest.NewRequest(http.MethodGet, "/echo?tenant=query-town", nil)
	req.Header.Set("X-Tenant-ID", "header-town")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, "header-town", w.Body.String())
}

func TestResolveTenant_QueryThenDefault(t *testing.T) {
	r := tenantEchoRouter("fallback")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/echo?tenant=query-town", nil))
	assert.Equal(t, "query-town", w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/echo", nil))
	assert.Equal(t, "fallback", w.Body.String())
}

func TestResolveTenant_NoTenantAnywhere(t *testing.T) {
	r := tenantEchoRouter("")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/echo", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func cronRouter(secret string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/cron", RequireCronSecret(secret), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func TestRequireCronSecret(t *testing.T) {
	r := cronRouter("s3cret")

	req := httptest.NewRequest(http.MethodPost, "/cron", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodPost, "/cron", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/cron", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireCronSecret_Unconfigured(t *testing.T) {
	r := cronRouter("")

	req := httptest.NewRequest(http.MethodPost, "/cron", nil)
	req.Header.Set("Authorization", "Bearer anything")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRequireAdmin_StaticSecretAndJWT(t *testing.T) {
	validator := auth.NewValidator([]byte("jwt-secret"), "")
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/admin", RequireAdmin("admin-pass", validator), func(c *gin.Context) {
		c.String(http.StatusOK, TenantID(c))
	})

	// Static secret.
	req := httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", "Bearer admin-pass")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	// Admin JWT pins the tenant.
	token, err := validator.IssueToken("springfield", []string{auth.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "springfield", w.Body.String())

	// Non-admin JWT is rejected.
	token, err = validator.IssueToken("springfield", []string{"viewer"}, time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
