package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParseRoundTrip(t *testing.T) {
	tok, err := Issue("teacher-7", RoleTeacher, "classroll", "secret", time.Minute)
	require.NoError(t, err)

	claims, err := Parse(tok.Value, "secret", "classroll")
	require.NoError(t, err)
	assert.Equal(t, "teacher-7", claims.Subject)
	assert.Equal(t, RoleTeacher, claims.Role)
}

func TestParseRejects(t *testing.T) {
	tok, err := Issue("teacher-7", RoleTeacher, "classroll", "secret", time.Minute)
	require.NoError(t, err)
	expired, err := Issue("teacher-7", RoleTeacher, "classroll", "secret", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		key    string
		issuer string
	}{
		{name: "wrong key", token: tok.Value, key: "other", issuer: "classroll"},
		{name: "wrong issuer", token: tok.Value, key: "secret", issuer: "elsewhere"},
		{name: "expired", token: expired.Value, key: "secret", issuer: "classroll"},
		{name: "garbage", token: "abc.def.ghi", key: "secret", issuer: "classroll"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token, tt.key, tt.issuer)
			assert.Error(t, err)
		})
	}
}

func TestTeacherAuthMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", TeacherAuth("secret", "classroll"), func(c *gin.Context) {
		claims, _ := ClaimsFrom(c)
		c.JSON(http.StatusOK, gin.H{"sub": claims.Subject, "token": TokenFromContext(c.Request.Context())})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := Issue("teacher-7", RoleTeacher, "classroll", "secret", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "teacher-7")
	assert.Contains(t, rec.Body.String(), tok.Value)
}

func TestTeacherAuthRejectsServiceRole(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", TeacherAuth("secret", "classroll"), func(c *gin.Context) { c.Status(http.StatusOK) })

	tok, err := Issue("classroll-worker", RoleService, "classroll", "secret", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+tok.Value)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServiceTokensCachesAndForwards(t *testing.T) {
	src := &ServiceTokens{Subject: "worker", Issuer: "classroll", Key: "secret", TTL: time.Hour}

	first, err := src.Token(context.Background())
	require.NoError(t, err)
	second, err := src.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	claims, err := Parse(first, "secret", "classroll")
	require.NoError(t, err)
	assert.Equal(t, RoleService, claims.Role)

	forwarded, err := src.Token(WithToken(context.Background(), "user-token"))
	require.NoError(t, err)
	assert.Equal(t, "user-token", forwarded)
}
