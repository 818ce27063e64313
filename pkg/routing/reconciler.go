// Package routing is the Routing Policy Reconciler (§4.3): it maintains
// per-deployment routing policies and derives the three layers of DNS
// records (zone CNAMEs, region weighted aliases, global/application
// latency aliases) that make an application's deployments reachable,
// honoring routing-status overrides and the NXDOMAIN-safety invariant.
package routing

import (
	"context"
	"time"

	"github.com/miekg/dns"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
	"github.com/ridgeline-cloud/controlplane/pkg/forwarder"
	"github.com/ridgeline-cloud/controlplane/pkg/log"
	"github.com/ridgeline-cloud/controlplane/pkg/metrics"
	"github.com/ridgeline-cloud/controlplane/pkg/store"
	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// typeALIAS is the provider-specific pseudo-record type used for
// weighted/latency alias groups; ALIAS is not an RFC 1035 RR type, so
// every DNS provider assigns it its own private-use code point.
const typeALIAS uint16 = 65401

const (
	priorityZoneCNAME       = 1
	priorityRegionAlias     = 2
	priorityGlobalAlias     = 3
	priorityApplicationAlias = 4
)

// ConfigServer reports the load balancers backing an application's
// deployment in one zone (§6's config-server contract, routing-facing
// subset).
type ConfigServer interface {
	GetLoadBalancers(ctx context.Context, application, zone string) ([]types.LoadBalancer, error)
}

// Reconciler is the Routing Policy Reconciler.
type Reconciler struct {
	store        *store.Store
	forwarder    *forwarder.Forwarder
	configServer ConfigServer
}

// New constructs a Reconciler.
func New(s *store.Store, fwd *forwarder.Forwarder, cs ConfigServer) *Reconciler {
	return &Reconciler{store: s, forwarder: fwd, configServer: cs}
}

// Reconcile runs one pass for a single application's deployment spec:
// it refreshes routing policies against the config server's reported
// load balancers, then re-derives and re-submits every DNS record
// layer. Safe to call as often as desired (§4.3 idempotence note).
func (r *Reconciler) Reconcile(ctx context.Context, spec *DeploymentSpec) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDurationVec(metrics.ReconciliationDuration, "routing")
		metrics.ReconciliationCyclesTotal.WithLabelValues("routing").Inc()
	}()

	holder := store.NewLockHolder()
	unlock, err := r.store.LockRoutingPolicies(ctx, holder)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	existing, err := r.store.ReadRoutingPolicies(spec.Application)
	if err != nil {
		return err
	}
	existingByID := make(map[types.PolicyID]*types.RoutingPolicy, len(existing))
	for _, p := range existing {
		existingByID[p.ID] = p
	}

	liveByID, err := r.collectLiveLoadBalancers(ctx, spec)
	if err != nil {
		return err
	}

	var kept []*types.RoutingPolicy
	var removed []*types.RoutingPolicy
	seen := make(map[types.PolicyID]bool)

	for id, lb := range liveByID {
		seen[id] = true
		p, ok := existingByID[id]
		if !ok {
			p = &types.RoutingPolicy{ID: id, Status: types.RoutingPolicyStatus{Active: true}}
		}
		p.CanonicalName = lb.Hostname
		p.DNSZone = lb.DNSZone
		if err := r.store.WriteRoutingPolicy(p); err != nil {
			return err
		}
		kept = append(kept, p)
	}

	for id, p := range existingByID {
		if seen[id] {
			continue
		}
		if len(p.InstanceEndpointIDs) > 0 || len(p.ApplicationEndpointIDs) > 0 {
			// still referenced by a derived endpoint's bookkeeping;
			// leave it for a later pass once those references clear.
			kept = append(kept, p)
			continue
		}
		if err := r.store.RemoveRoutingPolicy(id); err != nil {
			return err
		}
		removed = append(removed, p)
	}

	zonePolicies, err := r.zoneRoutingPolicies(spec)
	if err != nil {
		return err
	}

	return r.emitRecords(spec, kept, removed, zonePolicies)
}

func (r *Reconciler) collectLiveLoadBalancers(ctx context.Context, spec *DeploymentSpec) (map[types.PolicyID]types.LoadBalancer, error) {
	zones := make(map[string]bool)
	for _, inst := range spec.Instances {
		zones[inst.Zone] = true
	}

	live := make(map[types.PolicyID]types.LoadBalancer)
	for zone := range zones {
		lbs, err := r.configServer.GetLoadBalancers(ctx, spec.Application, zone)
		if err != nil {
			return nil, errkind.Transientf(err, "routing: failed to read load balancers for %s/%s", spec.Application, zone)
		}
		for _, lb := range lbs {
			if !lb.State.IsLive() {
				continue
			}
			id := types.PolicyID{Owner: spec.Application, Cluster: lb.Cluster, Zone: lb.Zone}
			live[id] = lb
		}
	}
	return live, nil
}

func (r *Reconciler) zoneRoutingPolicies(spec *DeploymentSpec) (map[string]*types.ZoneRoutingPolicy, error) {
	out := make(map[string]*types.ZoneRoutingPolicy)
	seen := make(map[string]bool)
	for _, inst := range spec.Instances {
		if seen[inst.Zone] {
			continue
		}
		seen[inst.Zone] = true
		zp, err := r.store.ReadZoneRoutingPolicy(inst.Zone)
		if err != nil {
			return nil, err
		}
		out[inst.Zone] = zp
	}
	return out, nil
}

func (r *Reconciler) emitRecords(spec *DeploymentSpec, kept, removed []*types.RoutingPolicy, zonePolicies map[string]*types.ZoneRoutingPolicy) error {
	for _, p := range deriveZoneEndpoints(kept) {
		if err := r.forwarder.CreateCNAME(p.Name, p.CanonicalName, priorityZoneCNAME); err != nil {
			return err
		}
	}
	for _, p := range removed {
		if err := r.forwarder.RemoveRecords(dns.TypeCNAME, zoneEndpointName(p), "", priorityZoneCNAME); err != nil {
			return err
		}
	}

	regionGroups := deriveRegionEndpoints(spec.Application, kept, zonePolicies, spec)
	for _, g := range regionGroups {
		if err := r.submitAlias(g.endpoint.Name, g.endpoint.Targets(), priorityRegionAlias); err != nil {
			return err
		}
	}

	globalEndpoints, inactiveRegions := deriveGlobalEndpoints(spec.Application, regionGroups)
	for _, re := range inactiveRegions {
		if err := r.forwarder.RemoveRecords(typeALIAS, re.Name, "", priorityRegionAlias); err != nil {
			return err
		}
	}
	for _, g := range globalEndpoints {
		if err := r.submitAlias(g.Name, g.Targets(), priorityGlobalAlias); err != nil {
			return err
		}
	}

	for _, a := range deriveApplicationEndpoints(spec.Application, kept, zonePolicies, spec) {
		if err := r.submitAlias(a.Name, a.Targets(), priorityApplicationAlias); err != nil {
			return err
		}
	}

	metrics.RoutingPoliciesTotal.Set(float64(len(kept)))
	return nil
}

// submitAlias issues a createAlias request naming every active target;
// an endpoint with no active targets at all (no policies contributed
// anything) emits nothing, per §9's open-question resolution.
func (r *Reconciler) submitAlias(name string, targets []types.Target, priority int) error {
	var names []string
	for _, t := range targets {
		if t.Active {
			names = append(names, t.Name)
		}
	}
	if len(names) == 0 {
		return nil
	}
	return r.forwarder.CreateAlias(name, names, priority)
}

// SetRoutingStatus applies the operator-level zone override and
// re-derives every affected endpoint's DNS state in the same pass.
func (r *Reconciler) SetRoutingStatus(ctx context.Context, zone string, value types.RoutingStatus, agent string, affected []*DeploymentSpec) error {
	holder := store.NewLockHolder()
	unlock, err := r.store.LockRoutingPolicies(ctx, holder)
	if err != nil {
		return err
	}
	if err := r.store.WriteZoneRoutingPolicy(&types.ZoneRoutingPolicy{
		Zone:          zone,
		RoutingStatus: types.RoutingStatusOverride{Value: value, Agent: agent, Instant: time.Now()},
	}); err != nil {
		unlock.Unlock()
		return err
	}
	unlock.Unlock()

	for _, spec := range affected {
		if err := r.Reconcile(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// SetRoutingStatusForPolicy applies a per-policy operator override and
// re-derives the owning application's endpoints in the same pass.
func (r *Reconciler) SetRoutingStatusForPolicy(ctx context.Context, id types.PolicyID, value types.RoutingStatus, agent string, spec *DeploymentSpec) error {
	holder := store.NewLockHolder()
	unlock, err := r.store.LockRoutingPolicies(ctx, holder)
	if err != nil {
		return err
	}

	policies, err := r.store.ReadRoutingPolicies(id.Owner)
	if err != nil {
		unlock.Unlock()
		return err
	}
	var target *types.RoutingPolicy
	for _, p := range policies {
		if p.ID == id {
			target = p
			break
		}
	}
	if target == nil {
		unlock.Unlock()
		return errkind.NotFoundf("routing: no policy for %+v", id)
	}
	target.Status.RoutingStatus = types.RoutingStatusOverride{Value: value, Agent: agent, Instant: time.Now()}
	if err := r.store.WriteRoutingPolicy(target); err != nil {
		unlock.Unlock()
		return err
	}
	unlock.Unlock()

	return r.Reconcile(ctx, spec)
}

// Run drives a ticker-scheduled reconciliation loop over every spec
// supplied by specs, taking the routing-policies lock briefly once per
// application per tick — the same single-reconciler-many-scopes shape
// the rest of the core's reconciliation loops follow.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration, specs func() []*DeploymentSpec) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithComponent("routing")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, spec := range specs() {
				if err := r.Reconcile(ctx, spec); err != nil {
					logger.Error().Err(err).Str("application", spec.Application).Msg("routing reconciliation pass failed")
				}
			}
		}
	}
}
