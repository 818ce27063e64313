package external

import (
	"context"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// ConfigServerClient is the core's view of §6's config server: it
// reports live load balancers per (application, zone) and drives the
// deploy/converge/activate lifecycle the pipeline runner's step handler
// calls out to. Satisfies pkg/routing.ConfigServer.
type ConfigServerClient struct {
	http *httpClient
}

// NewConfigServerClient constructs a client bound to baseURL.
func NewConfigServerClient(baseURL string, timeout time.Duration) *ConfigServerClient {
	return &ConfigServerClient{http: newHTTPClient(baseURL, timeout)}
}

// GetLoadBalancers reports the load balancers backing application's
// deployment in zone.
func (c *ConfigServerClient) GetLoadBalancers(ctx context.Context, application, zone string) ([]types.LoadBalancer, error) {
	var lbs []types.LoadBalancer
	path := "/application/" + application + "/environment/" + zone + "/loadbalancers"
	if err := c.http.doJSON(ctx, "GET", path, nil, &lbs); err != nil {
		return nil, err
	}
	return lbs, nil
}

type deployRequest struct {
	Package []byte `json:"package"`
}

type deployResponse struct {
	DeploymentID string `json:"deploymentId"`
}

// Deploy submits a prebuilt application package to zone, returning the
// deployment ID that ServiceConverge takes.
func (c *ConfigServerClient) Deploy(ctx context.Context, application, zone string, pkg []byte) (string, error) {
	var resp deployResponse
	path := "/application/" + application + "/environment/" + zone + "/deploy"
	if err := c.http.doJSON(ctx, "POST", path, deployRequest{Package: pkg}, &resp); err != nil {
		return "", err
	}
	return resp.DeploymentID, nil
}

type convergeResponse struct {
	Converged bool `json:"converged"`
}

// ServiceConverge reports whether deploymentID has finished converging.
func (c *ConfigServerClient) ServiceConverge(ctx context.Context, deploymentID string) (bool, error) {
	var resp convergeResponse
	path := "/deployment/" + deploymentID + "/converge"
	if err := c.http.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return false, err
	}
	return resp.Converged, nil
}

// Activate activates deploymentID's services.
func (c *ConfigServerClient) Activate(ctx context.Context, deploymentID string) error {
	return c.http.doJSON(ctx, "POST", "/deployment/"+deploymentID+"/activate", nil, nil)
}

// Deactivate deactivates deploymentID's services.
func (c *ConfigServerClient) Deactivate(ctx context.Context, deploymentID string) error {
	return c.http.doJSON(ctx, "POST", "/deployment/"+deploymentID+"/deactivate", nil, nil)
}
