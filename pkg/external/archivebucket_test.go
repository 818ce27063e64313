package external

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveBucketClient_Authorize(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/buckets/backups/tenants/tenant-1/authorize", r.URL.Path)
		_ = json.NewEncoder(w).Encode(authorizeResponse{Role: "reader"})
	}))
	defer server.Close()

	c := NewArchiveBucketClient(server.URL, time.Second)
	role, err := c.Authorize(context.Background(), "backups", "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "reader", role)
}

func TestArchiveBucketClient_UnauthorizedSurfacesPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	c := NewArchiveBucketClient(server.URL, time.Second)
	_, err := c.Authorize(context.Background(), "backups", "tenant-1")
	require.Error(t, err)
}
