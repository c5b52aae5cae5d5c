package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"hospital/config"
	"hospital/models"
	"hospital/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
	utils.Logger = zap.NewNop()
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(mw...)
	r.GET("/", func(c *gin.Context) {
		caller := CallerFrom(c)
		c.JSON(http.StatusOK, gin.H{"user": caller.UserID, "role": caller.Role})
	})
	return r
}

func get(r *gin.Engine, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWTAuthMiddleware(t *testing.T) {
	config.AppConfig.JWTSecret = "mw-secret"
	r := newRouter(JWTAuthMiddleware())

	assert.Equal(t, http.StatusUnauthorized, get(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, get(r, "garbage").Code)

	tok, err := utils.GenerateToken("nurse-3", models.RoleNurse, time.Hour)
	require.NoError(t, err)
	w := get(r, tok)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user":"nurse-3","role":"nurse"}`, w.Body.String())
}

func TestRequireRoles(t *testing.T) {
	config.AppConfig.JWTSecret = "mw-secret"
	r := newRouter(JWTAuthMiddleware(), RequireRoles(models.RoleBilling, models.RoleAdmin))

	patient, _ := utils.GenerateToken("p-1", models.RolePatient, time.Hour)
	w := get(r, patient)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), `"code":"forbidden"`)

	cashier, _ := utils.GenerateToken("b-1", models.RoleBilling, time.Hour)
	assert.Equal(t, http.StatusOK, get(r, cashier).Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	r := newRouter(RateLimitMiddleware(2))

	assert.Equal(t, http.StatusOK, get(r, "").Code)
	assert.Equal(t, http.StatusOK, get(r, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "").Code)
}

func TestRequestLoggerSetsRequestID(t *testing.T) {
	r := newRouter(RequestLogger(zap.NewNop()))
	w := get(r, "")
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRateLimiterStore_EvictsIdleClients(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	s := newRateLimiterStore(1)
	s.now = func() time.Time { return now }

	assert.True(t, s.allow("10.0.0.1"))
	assert.False(t, s.allow("10.0.0.1"))
	assert.True(t, s.allow("10.0.0.2"))
	assert.Equal(t, 2, s.size())

	now = now.Add(limiterIdleTTL + time.Second)
	assert.True(t, s.allow("10.0.0.3"))
	assert.Equal(t, 1, s.size())
}
