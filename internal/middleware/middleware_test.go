package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hearth-social/backend/internal/auth"
	"github.com/hearth-social/backend/internal/metrics"
	"github.com/hearth-social/backend/internal/models"
	"github.com/hearth-social/backend/internal/testutil"
	"github.com/hearth-social/backend/internal/util"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuth struct {
	tokens map[string]*auth.Claims
}

func (f *fakeAuth) Authenticate(_ context.Context, token string) (*models.User, *auth.Claims, error) {
	if token == "" {
		return nil, nil, auth.ErrNoToken
	}
	claims, ok := f.tokens[token]
	if !ok {
		return nil, nil, auth.ErrInvalidToken
	}
	return &models.User{ID: claims.UserID, Username: claims.Username}, claims, nil
}

func newAuthRouter() *gin.Engine {
	authn := &fakeAuth{tokens: map[string]*auth.Claims{
		"user-token":  {UserID: "u1", Username: "ada"},
		"admin-token": {UserID: "u2", Username: "root", IsAdmin: true},
	}}

	r := gin.New()
	r.Use(RequestID())
	api := r.Group("/api", RequireAuth(authn))
	api.GET("/me", func(c *gin.Context) {
		user, ok := util.GetUserFromContext(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"id": user.ID})
	})
	api.GET("/admin", RequireAdmin(), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func do(r http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body util.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body.Code
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID())
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, GetRequestID(c)) })

	w := do(r, http.MethodGet, "/", "")
	generated := w.Header().Get(RequestIDHeader)
	assert.Len(t, generated, 36)
	assert.Equal(t, generated, w.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRequireAuth(t *testing.T) {
	r := newAuthRouter()

	w := do(r, http.MethodGet, "/api/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, w))

	w = do(r, http.MethodGet, "/api/me", "forged")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodGet, "/api/me", "user-token")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"u1"}`, w.Body.String())

	// Socket-style query token
	w = do(r, http.MethodGet, "/api/me?token=user-token", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireAdmin(t *testing.T) {
	r := newAuthRouter()

	w := do(r, http.MethodGet, "/api/admin", "user-token")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, w))

	w = do(r, http.MethodGet, "/api/admin", "admin-token")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestMetricsUseRouteTemplate(t *testing.T) {
	m := metrics.Get()

	r := gin.New()
	r.Use(Metrics())
	r.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	ok := m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/users/:id", "200")
	bad := m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/boom", "502")
	missing := m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, unmatchedRoute, "404")
	beforeOK, beforeBad, beforeMissing := promtestutil.ToFloat64(ok), promtestutil.ToFloat64(bad), promtestutil.ToFloat64(missing)

	do(r, http.MethodGet, "/users/1", "")
	do(r, http.MethodGet, "/users/2", "")
	do(r, http.MethodGet, "/boom", "")
	do(r, http.MethodGet, "/nowhere", "")

	assert.Equal(t, beforeOK+2, promtestutil.ToFloat64(ok))
	assert.Equal(t, beforeBad+1, promtestutil.ToFloat64(bad))
	assert.Equal(t, beforeMissing+1, promtestutil.ToFloat64(missing))
}

func TestAccessLogPassesThrough(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), AccessLog("/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusInternalServerError, do(r, http.MethodGet, "/fail", "").Code)
}

func TestRateLimit(t *testing.T) {
	rc, mr := testutil.NewTestRedis(t)

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-User"); id != "" {
			c.Set(util.ContextUserID, id)
		}
	})
	r.POST("/follow", RateLimit(rc, "follow", 2, time.Minute), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	send := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/follow", nil)
		req.Header.Set("X-User", user)
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusNoContent, send("u1").Code)
	w := send("u1")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = send("u1")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, w))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	// Other callers have their own window
	assert.Equal(t, http.StatusNoContent, send("u2").Code)

	mr.FastForward(time.Minute + time.Second)
	assert.Equal(t, http.StatusNoContent, send("u1").Code)
}

type brokenCounter struct{}

func (brokenCounter) IncrWindow(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	r := gin.New()
	r.GET("/", RateLimit(brokenCounter{}, "any", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/nil", RateLimit(nil, "any", 1, time.Minute), func(c *gin.Context) { c.Status(http.StatusOK) })

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/", "").Code)
		assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/nil", "").Code)
	}
}
