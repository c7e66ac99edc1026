package httpmiddleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroll/internal/auth"
)

func TestAllowRefills(t *testing.T) {
	now := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)
	l := NewSimpleTokenBucket(2, 60)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"))
	assert.True(t, l.allow("b"))

	now = now.Add(2 * time.Second)
	assert.True(t, l.allow("a"))
}

func TestMiddlewareKeysByTeacher(t *testing.T) {
	gin.SetMode(gin.TestMode)
	l := NewSimpleTokenBucket(1, 1)
	r := gin.New()
	r.GET("/anon", l.GinMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/me", auth.TeacherAuth("key", "iss"), l.GinMiddleware(), func(c *gin.Context) { c.Status(http.StatusOK) })

	token := func(sub string) string {
		tok, err := auth.Issue(sub, auth.RoleTeacher, "iss", "key", time.Minute)
		require.NoError(t, err)
		return tok.Value
	}
	do := func(path, bearer string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	t1, t2 := token("t1"), token("t2")
	assert.Equal(t, http.StatusOK, do("/me", t1))
	assert.Equal(t, http.StatusTooManyRequests, do("/me", t1))
	assert.Equal(t, http.StatusOK, do("/me", t2))
	assert.Equal(t, http.StatusOK, do("/anon", ""))
	assert.Equal(t, http.StatusTooManyRequests, do("/anon", ""))
}

func TestZeroRateDisables(t *testing.T) {
	l := NewSimpleTokenBucket(0, 0)
	for i := 0; i < 5; i++ {
		assert.True(t, l.allow("a"))
	}
}
