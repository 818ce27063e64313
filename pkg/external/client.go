// Package external holds thin HTTP clients for the collaborators named
// in §6: the config server, the cloud API host provisioner, the
// orchestrator, the certificate provider, and the archive bucket
// service. Every call carries the caller's context deadline and maps
// transport failures and HTTP status codes onto the error-kind
// taxonomy the core switches on (§7) rather than returning raw
// *http.Response or status-code checks to callers.
package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
)

// httpClient is the shared transport every collaborator client embeds.
// It owns nothing collaborator-specific — only the base URL, the
// underlying *http.Client, and the JSON request/response plumbing.
type httpClient struct {
	base   string
	client *http.Client
}

// newHTTPClient builds a transport bound to baseURL with the given
// per-request timeout as the http.Client's default. Callers still pass
// a context on every call; the client-level timeout is a backstop.
func newHTTPClient(baseURL string, timeout time.Duration) *httpClient {
	return &httpClient{base: baseURL, client: &http.Client{Timeout: timeout}}
}

// doJSON issues method to path against the base URL, marshaling reqBody
// (nil for no body) and unmarshaling the response into respBody (nil to
// discard the body). Non-2xx responses are mapped to errkind.NotFound
// (404), errkind.Permanent (other 4xx — a definitive rejection) or
// errkind.Transient (5xx or transport failure), per §7.
func (c *httpClient) doJSON(ctx context.Context, method, path string, reqBody, respBody any) error {
	var body io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return errkind.Permanentf(err, "external: failed to encode %s %s request", method, path)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errkind.Permanentf(err, "external: failed to build %s %s request", method, path)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errkind.Transientf(err, "external: %s %s failed", method, path)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errkind.Transientf(err, "external: %s %s: failed to read response body", method, path)
	}

	if resp.StatusCode == http.StatusNotFound {
		return errkind.NotFoundf("external: %s %s: not found", method, path)
	}
	if resp.StatusCode >= 500 {
		return errkind.Transientf(fmt.Errorf("status %d: %s", resp.StatusCode, raw), "external: %s %s: server error", method, path)
	}
	if resp.StatusCode >= 400 {
		return errkind.Permanentf(fmt.Errorf("status %d: %s", resp.StatusCode, raw), "external: %s %s: rejected", method, path)
	}

	if respBody == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, respBody); err != nil {
		return errkind.Transientf(err, "external: %s %s: failed to decode response", method, path)
	}
	return nil
}
