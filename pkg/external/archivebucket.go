package external

import (
	"context"
	"time"
)

// ArchiveBucketClient is the core's view of §6's archive bucket
// service: a read-only authorization lookup, called from a maintainer
// that holds read-only access to tenant records.
type ArchiveBucketClient struct {
	http *httpClient
}

// NewArchiveBucketClient constructs a client bound to baseURL.
func NewArchiveBucketClient(baseURL string, timeout time.Duration) *ArchiveBucketClient {
	return &ArchiveBucketClient{http: newHTTPClient(baseURL, timeout)}
}

type authorizeResponse struct {
	Role string `json:"role"`
}

// Authorize reports the role tenant holds on bucket.
func (c *ArchiveBucketClient) Authorize(ctx context.Context, bucket, tenant string) (string, error) {
	var resp authorizeResponse
	path := "/buckets/" + bucket + "/tenants/" + tenant + "/authorize"
	if err := c.http.doJSON(ctx, "GET", path, nil, &resp); err != nil {
		return "", err
	}
	return resp.Role, nil
}
