package external

import (
	"context"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
)

// OrchestratorClient is the core's view of §6's orchestrator: it
// reports whether a host is currently suspended for maintenance.
type OrchestratorClient struct {
	http *httpClient
}

// NewOrchestratorClient constructs a client bound to baseURL.
func NewOrchestratorClient(baseURL string, timeout time.Duration) *OrchestratorClient {
	return &OrchestratorClient{http: newHTTPClient(baseURL, timeout)}
}

type nodeStatusResponse struct {
	Suspended bool `json:"suspended"`
}

// GetNodeStatus reports whether hostname is suspended. Per §6, a
// hostname the orchestrator has never heard of is not an error — it is
// treated as not suspended.
func (c *OrchestratorClient) GetNodeStatus(ctx context.Context, hostname string) (suspended bool, err error) {
	var resp nodeStatusResponse
	err = c.http.doJSON(ctx, "GET", "/nodes/"+hostname+"/status", nil, &resp)
	if errkind.Is(err, errkind.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return resp.Suspended, nil
}
