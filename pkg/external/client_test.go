package external

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
)

type echoBody struct {
	Value string `json:"value"`
}

func TestDoJSON_SuccessRoundTrips(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/echo", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"value":"hi"}`))
	}))
	defer server.Close()

	c := newHTTPClient(server.URL, time.Second)
	var resp echoBody
	require.NoError(t, c.doJSON(context.Background(), "GET", "/echo", nil, &resp))
	assert.Equal(t, "hi", resp.Value)
}

func TestDoJSON_404MapsToNotFound(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := newHTTPClient(server.URL, time.Second)
	err := c.doJSON(context.Background(), "GET", "/missing", nil, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.NotFound))
}

func TestDoJSON_4xxMapsToPermanent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("quota exceeded"))
	}))
	defer server.Close()

	c := newHTTPClient(server.URL, time.Second)
	err := c.doJSON(context.Background(), "POST", "/deploy", echoBody{Value: "x"}, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Permanent))
}

func TestDoJSON_5xxMapsToTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := newHTTPClient(server.URL, time.Second)
	err := c.doJSON(context.Background(), "GET", "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Transient))
}

func TestDoJSON_TransportFailureMapsToTransient(t *testing.T) {
	c := newHTTPClient("http://127.0.0.1:0", 50*time.Millisecond)
	err := c.doJSON(context.Background(), "GET", "/x", nil, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Transient))
}

func TestDoJSON_ContextCanceledMapsToTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	c := newHTTPClient(server.URL, time.Second)
	err := c.doJSON(ctx, "GET", "/slow", nil, nil)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.Transient))
}
