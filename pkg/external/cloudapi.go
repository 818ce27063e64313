package external

import (
	"context"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// ProvisionedHost is one host the cloud API returned from a
// provisionHosts call. Hostname and IPConfig are deterministic per §6
// — calling provisionHosts again with the same indices returns the
// same hosts.
type ProvisionedHost struct {
	Hostname string
	IPConfig types.IPConfig
}

// CloudAPIClient is the core's view of §6's cloud API (host
// provisioner): it allocates and releases physical or virtual hosts.
type CloudAPIClient struct {
	http *httpClient
}

// NewCloudAPIClient constructs a client bound to baseURL.
func NewCloudAPIClient(baseURL string, timeout time.Duration) *CloudAPIClient {
	return &CloudAPIClient{http: newHTTPClient(baseURL, timeout)}
}

// ProvisionHostsRequest describes the hosts to allocate.
type ProvisionHostsRequest struct {
	Indices     []int  `json:"indices"`
	HostType    string `json:"hostType"`
	Resources   string `json:"resources"`
	Application string `json:"application"`
	OSVersion   string `json:"osVersion"`
	Sharing     string `json:"sharing"`
	ClusterType string `json:"clusterType"`
}

// ProvisionHosts allocates one host per index in req.Indices.
func (c *CloudAPIClient) ProvisionHosts(ctx context.Context, req ProvisionHostsRequest) ([]ProvisionedHost, error) {
	var hosts []ProvisionedHost
	if err := c.http.doJSON(ctx, "POST", "/hosts/provision", req, &hosts); err != nil {
		return nil, err
	}
	return hosts, nil
}

// Deprovision releases hostname back to the pool.
func (c *CloudAPIClient) Deprovision(ctx context.Context, hostname string) error {
	return c.http.doJSON(ctx, "POST", "/hosts/"+hostname+"/deprovision", nil, nil)
}
