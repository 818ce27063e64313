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

func TestCertificateProviderClient_RequestCASignedCertificate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req requestCertificateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, []string{"app1.example.com"}, req.DNSNames)
		_ = json.NewEncoder(w).Encode(requestCertificateResponse{CertificatePEM: "-----BEGIN CERTIFICATE-----"})
	}))
	defer server.Close()

	c := NewCertificateProviderClient(server.URL, time.Second)
	pem, err := c.RequestCASignedCertificate(context.Background(), "app1", []string{"app1.example.com"}, "")
	require.NoError(t, err)
	assert.Equal(t, "-----BEGIN CERTIFICATE-----", pem)
}

func TestCertificateProviderClient_ListCertificates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]Certificate{
			{Application: "app1", DNSNames: []string{"app1.example.com"}},
		})
	}))
	defer server.Close()

	c := NewCertificateProviderClient(server.URL, time.Second)
	certs, err := c.ListCertificates(context.Background())
	require.NoError(t, err)
	require.Len(t, certs, 1)
	assert.Equal(t, "app1", certs[0].Application)
}

func TestCertificateProviderClient_DNSNamesOf(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/application/app1/dns-names", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]string{"app1.example.com", "app1-alt.example.com"})
	}))
	defer server.Close()

	c := NewCertificateProviderClient(server.URL, time.Second)
	names, err := c.DNSNamesOf(context.Background(), "app1")
	require.NoError(t, err)
	assert.Equal(t, []string{"app1.example.com", "app1-alt.example.com"}, names)
}
