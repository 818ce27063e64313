package routing

import (
	"fmt"
	"strings"

	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// regionOf extracts the region component of a zone name, zones being a
// region/environment pair per the glossary (e.g. "us-east.prod" → "us-east").
func regionOf(zone string) string {
	if i := strings.IndexByte(zone, '.'); i >= 0 {
		return zone[:i]
	}
	return zone
}

func zoneEndpointName(p *types.RoutingPolicy) string {
	if p.DNSZone != "" {
		return fmt.Sprintf("%s.%s.%s.%s.", p.ID.Owner, p.ID.Cluster, p.ID.Zone, p.DNSZone)
	}
	return fmt.Sprintf("%s.%s.%s.zone.vespa.", p.ID.Owner, p.ID.Cluster, p.ID.Zone)
}

func regionEndpointName(application, cluster, region string) string {
	return fmt.Sprintf("%s.%s.%s.region.vespa.", application, cluster, region)
}

func globalEndpointName(application, cluster string) string {
	return fmt.Sprintf("%s.%s.global.vespa.", application, cluster)
}

func applicationEndpointName(application, id string) string {
	return fmt.Sprintf("%s.%s.endpoint.vespa.", application, id)
}

// configuredOut is the three-way OR of §4.3's configured-out predicate.
func configuredOut(p *types.RoutingPolicy, zp *types.ZoneRoutingPolicy, spec *DeploymentSpec) bool {
	if zp != nil && zp.RoutingStatus.Value == types.RoutingStatusOUT {
		return true
	}
	if p.Status.RoutingStatus.Value == types.RoutingStatusOUT {
		return true
	}
	if spec.InactiveZones[p.ID.Zone] {
		return true
	}
	return false
}

// promoteIfAllInactive applies the NXDOMAIN-safety rule: when every
// target would otherwise be inactive, every target is promoted active
// (and, for weighted targets, its weight restored to 1) so the record
// never resolves to nothing. A target set with no entries at all is
// left untouched — the safety rule only fires when at least one policy
// contributed a target (§9 open question).
func promoteIfAllInactive(targets []types.Target) []types.Target {
	if len(targets) == 0 {
		return targets
	}
	for _, t := range targets {
		if t.Active {
			return targets
		}
	}
	promoted := make([]types.Target, len(targets))
	for i, t := range targets {
		t.Active = true
		if t.Weight == 0 {
			t.Weight = 1
		}
		promoted[i] = t
	}
	return promoted
}

// deriveZoneEndpoints builds one ZoneEndpoint per live policy — the
// first record layer of §4.3.
func deriveZoneEndpoints(policies []*types.RoutingPolicy) []types.ZoneEndpoint {
	out := make([]types.ZoneEndpoint, 0, len(policies))
	for _, p := range policies {
		out = append(out, types.ZoneEndpoint{
			Name:          zoneEndpointName(p),
			CanonicalName: p.CanonicalName,
		})
	}
	return out
}

// regionGroup pairs a derived RegionEndpoint with the cluster it
// belongs to, so deriveGlobalEndpoints can group region endpoints by
// cluster without parsing their generated DNS names back apart.
type regionGroup struct {
	cluster  string
	endpoint types.RegionEndpoint
}

// deriveRegionEndpoints groups policies by (cluster, region) and builds
// one weighted-alias RegionEndpoint per group — the second record
// layer of §4.3.
func deriveRegionEndpoints(application string, policies []*types.RoutingPolicy, zonePolicies map[string]*types.ZoneRoutingPolicy, spec *DeploymentSpec) []regionGroup {
	type key struct{ cluster, region string }
	groups := make(map[key][]*types.RoutingPolicy)
	var order []key
	for _, p := range policies {
		k := key{cluster: p.ID.Cluster, region: regionOf(p.ID.Zone)}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], p)
	}

	out := make([]regionGroup, 0, len(order))
	for _, k := range order {
		members := groups[k]
		targets := make([]types.Target, 0, len(members))
		for _, p := range members {
			weight := 1
			if configuredOut(p, zonePolicies[p.ID.Zone], spec) {
				weight = 0
			}
			targets = append(targets, types.Target{Name: p.ID.Zone, Weight: weight, Active: weight > 0})
		}
		targets = promoteIfAllInactive(targets)
		out = append(out, regionGroup{
			cluster: k.cluster,
			endpoint: types.RegionEndpoint{
				Name:        regionEndpointName(application, k.cluster, k.region),
				ZoneTargets: targets,
			},
		})
	}
	return out
}

// deriveGlobalEndpoints groups region endpoints by cluster and builds
// one latency-alias GlobalEndpoint per cluster — the third record
// layer of §4.3. It reports, alongside the endpoints, which region
// endpoints were inactive this pass so the caller can issue explicit
// removals for them.
func deriveGlobalEndpoints(application string, regionGroups []regionGroup) ([]types.GlobalEndpoint, []types.RegionEndpoint) {
	byCluster := make(map[string][]types.RegionEndpoint)
	var order []string
	for _, g := range regionGroups {
		if _, ok := byCluster[g.cluster]; !ok {
			order = append(order, g.cluster)
		}
		byCluster[g.cluster] = append(byCluster[g.cluster], g.endpoint)
	}

	var inactive []types.RegionEndpoint
	out := make([]types.GlobalEndpoint, 0, len(order))
	for _, cluster := range order {
		regions := byCluster[cluster]
		targets := make([]types.Target, 0, len(regions))
		for _, re := range regions {
			active := re.Active()
			if !active {
				inactive = append(inactive, re)
			}
			targets = append(targets, types.Target{Name: re.Name, Active: active})
		}
		targets = promoteIfAllInactive(targets)
		out = append(out, types.GlobalEndpoint{
			Name:          globalEndpointName(application, cluster),
			RegionTargets: targets,
		})
	}
	return out, inactive
}

// deriveApplicationEndpoints builds one ApplicationEndpoint per
// declared spec entry, aggregating weighted targets across every
// matching (zone, instance) pair.
func deriveApplicationEndpoints(application string, policies []*types.RoutingPolicy, zonePolicies map[string]*types.ZoneRoutingPolicy, spec *DeploymentSpec) []types.ApplicationEndpoint {
	out := make([]types.ApplicationEndpoint, 0, len(spec.ApplicationEndpoints))
	for _, decl := range spec.ApplicationEndpoints {
		wantInstance := make(map[string]bool, len(decl.Instances))
		for _, i := range decl.Instances {
			wantInstance[i] = true
		}

		var targets []types.Target
		for _, p := range policies {
			if len(wantInstance) > 0 && !wantInstance[p.ID.Cluster] {
				continue
			}
			if decl.Region != "" && regionOf(p.ID.Zone) != decl.Region {
				continue
			}
			weight := 1
			if configuredOut(p, zonePolicies[p.ID.Zone], spec) {
				weight = 0
			}
			targets = append(targets, types.Target{Name: p.ID.Cluster + "/" + p.ID.Zone, Weight: weight, Active: weight > 0})
		}
		targets = promoteIfAllInactive(targets)

		out = append(out, types.ApplicationEndpoint{
			ID:              decl.ID,
			Name:            applicationEndpointName(application, decl.ID),
			WeightedTargets: targets,
		})
	}
	return out
}
