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

func TestOrchestratorClient_SuspendedHost(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(nodeStatusResponse{Suspended: true})
	}))
	defer server.Close()

	c := NewOrchestratorClient(server.URL, time.Second)
	suspended, err := c.GetNodeStatus(context.Background(), "host-0")
	require.NoError(t, err)
	assert.True(t, suspended)
}

// TestOrchestratorClient_UnknownHostIsNotSuspended exercises §6's
// explicit rule: a hostname the orchestrator has never heard of is not
// an error, and is treated as not suspended.
func TestOrchestratorClient_UnknownHostIsNotSuspended(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	c := NewOrchestratorClient(server.URL, time.Second)
	suspended, err := c.GetNodeStatus(context.Background(), "host-unknown")
	require.NoError(t, err)
	assert.False(t, suspended)
}

func TestOrchestratorClient_ServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewOrchestratorClient(server.URL, time.Second)
	_, err := c.GetNodeStatus(context.Background(), "host-0")
	require.Error(t, err)
}
