package external

import (
	"context"
	"time"
)

// CertificateProviderClient is the core's view of §6's certificate
// provider: it requests CA-signed certificates and reports what is
// currently issued, so the certificate maintainer can garbage-collect
// unused certificates.
type CertificateProviderClient struct {
	http *httpClient
}

// NewCertificateProviderClient constructs a client bound to baseURL.
func NewCertificateProviderClient(baseURL string, timeout time.Duration) *CertificateProviderClient {
	return &CertificateProviderClient{http: newHTTPClient(baseURL, timeout)}
}

type requestCertificateRequest struct {
	Application string   `json:"application"`
	DNSNames    []string `json:"dnsNames"`
	Algorithm   string   `json:"algorithm,omitempty"`
}

type requestCertificateResponse struct {
	CertificatePEM string `json:"certificatePem"`
}

// RequestCASignedCertificate requests a certificate covering dnsNames
// for application. An empty algorithm lets the provider choose.
func (c *CertificateProviderClient) RequestCASignedCertificate(ctx context.Context, application string, dnsNames []string, algorithm string) (string, error) {
	var resp requestCertificateResponse
	req := requestCertificateRequest{Application: application, DNSNames: dnsNames, Algorithm: algorithm}
	if err := c.http.doJSON(ctx, "POST", "/certificates", req, &resp); err != nil {
		return "", err
	}
	return resp.CertificatePEM, nil
}

// Certificate is one certificate the provider currently holds issued.
type Certificate struct {
	Application string
	IssuedAt    time.Time
	DNSNames    []string
}

// ListCertificates lists every certificate the provider currently
// holds, for the maintainer's garbage-collection sweep.
func (c *CertificateProviderClient) ListCertificates(ctx context.Context) ([]Certificate, error) {
	var certs []Certificate
	if err := c.http.doJSON(ctx, "GET", "/certificates", nil, &certs); err != nil {
		return nil, err
	}
	return certs, nil
}

// DNSNamesOf reports the DNS names application's deployment currently
// requires, so the maintainer can tell a still-used certificate from an
// orphaned one.
func (c *CertificateProviderClient) DNSNamesOf(ctx context.Context, application string) ([]string, error) {
	var names []string
	if err := c.http.doJSON(ctx, "GET", "/application/"+application+"/dns-names", nil, &names); err != nil {
		return nil, err
	}
	return names, nil
}
