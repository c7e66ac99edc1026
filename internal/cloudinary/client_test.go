package cloudinary

import (
	"context"
	"crypto/sha1"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	c := New("demo", "key", "secret", "")
	got := c.sign(map[string]string{"timestamp": "100", "api_key": "key", "folder": "reports", "public_id": ""})
	want := fmt.Sprintf("%x", sha1.Sum([]byte("folder=reports&timestamp=100secret")))
	assert.Equal(t, want, got)
}

func TestUploadRaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/demo/raw/upload", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "key", r.FormValue("api_key"))
		assert.Equal(t, "reports", r.FormValue("folder"))
		assert.Equal(t, "job-1", r.FormValue("public_id"))
		assert.Equal(t, "1700000000", r.FormValue("timestamp"))
		assert.NotEmpty(t, r.FormValue("signature"))

		f, fh, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "report.xlsx", fh.Filename)
		assert.Equal(t, "xlsx-bytes", string(data))

		_, _ = io.WriteString(w, `{"public_id":"reports/job-1","secure_url":"https://res.example/raw/job-1.xlsx","resource_type":"raw","bytes":10}`)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "reports")
	c.APIBase = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.UploadRaw(context.Background(), []byte("xlsx-bytes"), "report.xlsx", "job-1")
	require.NoError(t, err)
	assert.Equal(t, "https://res.example/raw/job-1.xlsx", res.SecureURL)
	assert.Equal(t, "raw", res.ResourceType)
}

func TestUploadFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid Signature"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := New("demo", "key", "bad", "")
	c.APIBase = srv.URL
	_, err := c.UploadRaw(context.Background(), []byte("x"), "a.xlsx", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
