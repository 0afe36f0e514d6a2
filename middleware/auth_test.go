package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yashrajoria/payment-engine/common/auth"
	apperrors "github.com/yashrajoria/payment-engine/common/errors"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupRouter(handlers ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	handlers = append(handlers, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": GetUserID(c), "role": c.GetString(RoleKey)})
	})
	r.GET("/", handlers...)
	return r
}

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthMiddleware(t *testing.T) {
	tokens := auth.NewTokenParser("jwt-secret")

	tests := []struct {
		name    string
		headers map[string]string
		status  int
		body    string
	}{
		{"Gateway Headers", map[string]string{"X-User-ID": "u-1", "X-User-Role": "admin"}, http.StatusOK, `"user":"u-1"`},
		{"Missing Identity", nil, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"Bad Token", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized, "INVALID_TOKEN"},
		{"Valid Token", map[string]string{"Authorization": "Bearer " + signToken(t, "jwt-secret", jwt.MapClaims{
			"sub": "u-2", "role": "admin", "typ": "access", "exp": time.Now().Add(time.Hour).Unix(),
		})}, http.StatusOK, `"user":"u-2"`},
		{"Refresh Token Rejected", map[string]string{"Authorization": "Bearer " + signToken(t, "jwt-secret", jwt.MapClaims{
			"sub": "u-2", "typ": "refresh", "exp": time.Now().Add(time.Hour).Unix(),
		})}, http.StatusUnauthorized, "INVALID_TOKEN"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := setupRouter(AuthMiddleware(tokens))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tc.status, w.Code)
			assert.Contains(t, w.Body.String(), tc.body)
		})
	}
}

func TestAdminOnly(t *testing.T) {
	r := setupRouter(AuthMiddleware(auth.NewTokenParser("")), AdminOnly())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-User-ID", "u-1")
	req.Header.Set("X-User-Role", "customer")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req.Header.Set("X-User-Role", "admin")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyAuth(t *testing.T) {
	r := setupRouter(APIKeyAuth("k-123"))

	for _, tc := range []struct {
		header, value string
		status        int
	}{
		{APIKeyHeader, "k-123", http.StatusOK},
		{"Authorization", "Apikey k-123", http.StatusOK},
		{APIKeyHeader, "k-124", http.StatusUnauthorized},
		{APIKeyHeader, "", http.StatusUnauthorized},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.value != "" {
			req.Header.Set(tc.header, tc.value)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, tc.status, w.Code, "%s=%q", tc.header, tc.value)
	}

	unconfigured := setupRouter(APIKeyAuth(""))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	unconfigured.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
