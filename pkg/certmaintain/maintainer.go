// Package certmaintain is the certificate garbage-collection maintainer
// named in §6: a separate, periodic job that calls the certificate
// provider's listCertificates/dnsNamesOf operations and removes
// certificates that are both unused and older than a threshold. It is
// not a core reconciliation engine — it has no invariants of its own
// beyond "never remove a certificate a live application still needs."
package certmaintain

import (
	"context"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/external"
	"github.com/ridgeline-cloud/controlplane/pkg/log"
)

// Clock is the source of wall-clock time, pluggable so tests can
// control certificate age without real sleeps.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// CertificateProvider is the subset of §6's certificate-provider
// contract the maintainer needs.
type CertificateProvider interface {
	ListCertificates(ctx context.Context) ([]external.Certificate, error)
	DNSNamesOf(ctx context.Context, application string) ([]string, error)
}

// Remover removes a certificate that is no longer needed. It is a
// separate interface from CertificateProvider because §6 never
// actually names a removal operation on the certificate provider
// itself — deletion is assumed to be a side effect the provider offers
// through some other channel (e.g. its own TTL), so the maintainer only
// needs to be told which certificates qualify. A concrete deployment
// can wire an HTTP DELETE or a no-op logger here.
type Remover interface {
	RemoveCertificate(ctx context.Context, application string) error
}

// Maintainer periodically garbage-collects certificates.
type Maintainer struct {
	certs     CertificateProvider
	remover   Remover
	threshold time.Duration
	clock     Clock
}

// New constructs a Maintainer. Certificates older than threshold that
// no application still references are removed. A nil clock defaults to
// the real wall clock.
func New(certs CertificateProvider, remover Remover, threshold time.Duration, clock Clock) *Maintainer {
	if clock == nil {
		clock = realClock{}
	}
	return &Maintainer{certs: certs, remover: remover, threshold: threshold, clock: clock}
}

// Sweep runs one garbage-collection pass: it lists every certificate
// the provider holds and removes those both older than the threshold
// and no longer referenced by their application's current DNS names.
// Errors are logged and swallowed per application, mirroring the
// reconcilers' per-tick error-propagation policy (§7) — one
// application's failure must not block the sweep for the rest.
func (m *Maintainer) Sweep(ctx context.Context) error {
	logger := log.WithComponent("certmaintain")

	certs, err := m.certs.ListCertificates(ctx)
	if err != nil {
		return err
	}

	now := m.clock.Now()
	for _, cert := range certs {
		if now.Sub(cert.IssuedAt) < m.threshold {
			continue
		}

		stillNeeded, err := m.isStillNeeded(ctx, cert)
		if err != nil {
			logger.Error().Err(err).Str("application", cert.Application).Msg("failed to check certificate usage")
			continue
		}
		if stillNeeded {
			continue
		}

		if err := m.remover.RemoveCertificate(ctx, cert.Application); err != nil {
			logger.Error().Err(err).Str("application", cert.Application).Msg("failed to remove unused certificate")
			continue
		}
		logger.Info().Str("application", cert.Application).Msg("removed unused certificate")
	}
	return nil
}

// isStillNeeded reports whether any of cert's DNS names still appear in
// the application's current DNS name set.
func (m *Maintainer) isStillNeeded(ctx context.Context, cert external.Certificate) (bool, error) {
	current, err := m.certs.DNSNamesOf(ctx, cert.Application)
	if err != nil {
		return false, err
	}
	currentSet := make(map[string]bool, len(current))
	for _, name := range current {
		currentSet[name] = true
	}
	for _, name := range cert.DNSNames {
		if currentSet[name] {
			return true, nil
		}
	}
	return false, nil
}

// Run drives periodic sweeps until ctx is canceled, mirroring the
// reconcilers' ticker-driven Run loop shape.
func (m *Maintainer) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithComponent("certmaintain")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				logger.Error().Err(err).Msg("certificate maintenance sweep failed")
			}
		}
	}
}
