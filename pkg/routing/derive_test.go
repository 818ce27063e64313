package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

func policy(owner, cluster, zone string) *types.RoutingPolicy {
	return &types.RoutingPolicy{
		ID:            types.PolicyID{Owner: owner, Cluster: cluster, Zone: zone},
		CanonicalName: "lb-" + zone + ".example.",
	}
}

func TestDeriveZoneEndpoints_OnePerPolicy(t *testing.T) {
	policies := []*types.RoutingPolicy{policy("app-a", "default", "us-east.prod"), policy("app-a", "default", "eu-west.prod")}
	endpoints := deriveZoneEndpoints(policies)
	assert.Len(t, endpoints, 2)
	assert.Equal(t, "lb-us-east.prod.example.", endpoints[0].CanonicalName)
}

func TestDeriveRegionEndpoints_GroupsByClusterAndRegion(t *testing.T) {
	policies := []*types.RoutingPolicy{
		policy("app-a", "default", "us-east.prod"),
		policy("app-a", "default", "us-east.staging"),
		policy("app-a", "default", "eu-west.prod"),
	}
	groups := deriveRegionEndpoints("app-a", policies, nil, &DeploymentSpec{})
	assert.Len(t, groups, 2, "us-east.prod and us-east.staging share region us-east")

	var usEast regionGroup
	for _, g := range groups {
		if g.endpoint.ZoneTargets[0].Name == "us-east.prod" || (len(g.endpoint.ZoneTargets) > 1 && g.endpoint.ZoneTargets[1].Name == "us-east.staging") {
			usEast = g
		}
	}
	assert.Len(t, usEast.endpoint.ZoneTargets, 2)
}

func TestDeriveRegionEndpoints_ConfiguredOutZoneHasZeroWeight(t *testing.T) {
	policies := []*types.RoutingPolicy{
		policy("app-a", "default", "us-east.prod"),
		policy("app-a", "default", "us-east.staging"),
	}
	spec := &DeploymentSpec{InactiveZones: map[string]bool{"us-east.prod": true}}
	groups := deriveRegionEndpoints("app-a", policies, nil, spec)

	for _, g := range groups {
		for _, target := range g.endpoint.ZoneTargets {
			if target.Name == "us-east.prod" {
				assert.Equal(t, 0, target.Weight)
				assert.False(t, target.Active)
			}
			if target.Name == "us-east.staging" {
				assert.Equal(t, 1, target.Weight)
				assert.True(t, target.Active)
			}
		}
	}
}

func TestDeriveRegionEndpoints_NXDOMAINSafetyPromotesSoleConfiguredOutTarget(t *testing.T) {
	policies := []*types.RoutingPolicy{policy("app-a", "default", "us-east.prod")}
	spec := &DeploymentSpec{InactiveZones: map[string]bool{"us-east.prod": true}}
	groups := deriveRegionEndpoints("app-a", policies, nil, spec)

	require := groups[0].endpoint.ZoneTargets
	assert.Len(t, require, 1)
	assert.Equal(t, 1, require[0].Weight, "the only target must be promoted back to weight 1")
	assert.True(t, require[0].Active)
}

func TestPromoteIfAllInactive_NoTargetsStaysEmpty(t *testing.T) {
	out := promoteIfAllInactive(nil)
	assert.Empty(t, out, "no policies contributed a target: emit nothing rather than promoting")
}

func TestPromoteIfAllInactive_LeavesActiveSetUntouched(t *testing.T) {
	in := []types.Target{{Name: "a", Weight: 1, Active: true}, {Name: "b", Weight: 0, Active: false}}
	out := promoteIfAllInactive(in)
	assert.Equal(t, in, out)
}

func TestDeriveGlobalEndpoints_SplitsActiveAndInactiveRegions(t *testing.T) {
	groups := []regionGroup{
		{cluster: "default", endpoint: types.RegionEndpoint{Name: "r1", ZoneTargets: []types.Target{{Name: "z1", Weight: 1, Active: true}}}},
		{cluster: "default", endpoint: types.RegionEndpoint{Name: "r2", ZoneTargets: []types.Target{{Name: "z2", Weight: 0, Active: false}}}},
	}
	globals, inactive := deriveGlobalEndpoints("app-a", groups)
	require_ := globals
	assert.Len(t, require_, 1)
	assert.Len(t, inactive, 1)
	assert.Equal(t, "r2", inactive[0].Name)
}

func TestDeriveApplicationEndpoints_FiltersByInstanceAndRegion(t *testing.T) {
	policies := []*types.RoutingPolicy{
		policy("app-a", "default", "us-east.prod"),
		policy("app-a", "canary", "us-east.prod"),
		policy("app-a", "default", "eu-west.prod"),
	}
	spec := &DeploymentSpec{
		ApplicationEndpoints: []ApplicationEndpointSpec{
			{ID: "ep1", Region: "us-east", Instances: []string{"default"}},
		},
	}
	endpoints := deriveApplicationEndpoints("app-a", policies, nil, spec)
	assert.Len(t, endpoints, 1)
	assert.Len(t, endpoints[0].WeightedTargets, 1, "only the default instance in us-east matches")
}

func TestConfiguredOut_ZonePolicyOverrideWins(t *testing.T) {
	p := policy("app-a", "default", "us-east.prod")
	zp := &types.ZoneRoutingPolicy{Zone: "us-east.prod", RoutingStatus: types.RoutingStatusOverride{Value: types.RoutingStatusOUT}}
	assert.True(t, configuredOut(p, zp, &DeploymentSpec{}))
}

func TestConfiguredOut_PolicyStatusOverrideWins(t *testing.T) {
	p := policy("app-a", "default", "us-east.prod")
	p.Status.RoutingStatus.Value = types.RoutingStatusOUT
	assert.True(t, configuredOut(p, nil, &DeploymentSpec{}))
}

func TestConfiguredOut_DefaultIsIn(t *testing.T) {
	p := policy("app-a", "default", "us-east.prod")
	assert.False(t, configuredOut(p, nil, &DeploymentSpec{}))
}
