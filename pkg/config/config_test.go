package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
store:
  nodeId: node-1
  dataDir: /var/lib/controlplane
  bindAddr: 127.0.0.1:7000
  bootstrap: true
external:
  configServer:
    baseUrl: http://config-server.internal
  cloudApi:
    baseUrl: http://cloud-api.internal
  orchestrator:
    baseUrl: http://orchestrator.internal
  certificateProvider:
    baseUrl: http://cert-provider.internal
  archiveBucket:
    baseUrl: http://archive-bucket.internal
`

func TestLoadBytes_AppliesDefaults(t *testing.T) {
	cfg, err := LoadBytes([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "node-1", cfg.Store.NodeID)
	assert.Equal(t, 10*time.Second, cfg.External.ConfigServer.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Intervals.NodeLifecycle)
	assert.Equal(t, time.Hour, cfg.Intervals.CertMaintain)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestLoadBytes_RespectsExplicitTimeout(t *testing.T) {
	cfg, err := LoadBytes([]byte(`
store:
  nodeId: node-1
  dataDir: /var/lib/controlplane
  bindAddr: 127.0.0.1:7000
external:
  configServer:
    baseUrl: http://config-server.internal
    timeout: 5s
  cloudApi: {baseUrl: http://x}
  orchestrator: {baseUrl: http://x}
  certificateProvider: {baseUrl: http://x}
  archiveBucket: {baseUrl: http://x}
`))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, cfg.External.ConfigServer.Timeout)
}

func TestLoadBytes_MissingNodeIDFails(t *testing.T) {
	_, err := LoadBytes([]byte(`
store:
  dataDir: /var/lib/controlplane
  bindAddr: 127.0.0.1:7000
external:
  configServer: {baseUrl: http://x}
  cloudApi: {baseUrl: http://x}
  orchestrator: {baseUrl: http://x}
  certificateProvider: {baseUrl: http://x}
  archiveBucket: {baseUrl: http://x}
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodeId")
}

func TestLoadBytes_MissingCollaboratorBaseURLFails(t *testing.T) {
	_, err := LoadBytes([]byte(`
store:
  nodeId: node-1
  dataDir: /var/lib/controlplane
  bindAddr: 127.0.0.1:7000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "baseUrl")
}

func TestLoadBytes_InvalidYAMLFails(t *testing.T) {
	_, err := LoadBytes([]byte("store: [not a map"))
	require.Error(t, err)
}

func TestApplyEnvOverrides_NodeIDAndBindAddr(t *testing.T) {
	t.Setenv("CONTROLPLANE_NODE_ID", "node-override")
	t.Setenv("CONTROLPLANE_BIND_ADDR", "0.0.0.0:8000")

	cfg, err := LoadBytes([]byte(validYAML))
	require.NoError(t, err)
	assert.Equal(t, "node-override", cfg.Store.NodeID)
	assert.Equal(t, "0.0.0.0:8000", cfg.Store.BindAddr)
}

func TestLoad_MissingFileFails(t *testing.T) {
	_, err := Load("/nonexistent/path/controlplane.yaml")
	require.Error(t, err)
}
