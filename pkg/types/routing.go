package types

import "time"

// LoadBalancerState mirrors §3: reserved/active are live for routing.
type LoadBalancerState string

const (
	LoadBalancerReserved  LoadBalancerState = "reserved"
	LoadBalancerActive    LoadBalancerState = "active"
	LoadBalancerInactive  LoadBalancerState = "inactive"
	LoadBalancerRemovable LoadBalancerState = "removable"
)

// IsLive reports whether the load balancer counts as live for routing
// purposes — reserved or active, per §3's invariant.
func (s LoadBalancerState) IsLive() bool {
	return s == LoadBalancerReserved || s == LoadBalancerActive
}

// LoadBalancer is reported by the config server per (application, zone).
type LoadBalancer struct {
	Application string
	Cluster     string
	Zone        string
	Hostname    string // optional — absent means not-yet-provisioned
	DNSZone     string
	State       LoadBalancerState
}

// RoutingStatus is the operator-controllable IN/OUT override applied
// either at the zone level (ZoneRoutingPolicy) or at the per-policy
// level (RoutingPolicy.Status).
type RoutingStatus string

const (
	RoutingStatusIN  RoutingStatus = "in"
	RoutingStatusOUT RoutingStatus = "out"
)

// RoutingStatusOverride records who set a routing status and when.
type RoutingStatusOverride struct {
	Value  RoutingStatus
	Agent  string
	Instant time.Time
}

// PolicyID identifies a RoutingPolicy: one per (owner, cluster, zone).
type PolicyID struct {
	Owner   string
	Cluster string
	Zone    string
}

// RoutingPolicyStatus carries the policy's own routing-status override.
type RoutingPolicyStatus struct {
	Active        bool
	RoutingStatus RoutingStatusOverride
}

// RoutingPolicy is the per-deployment routing record the reconciler
// maintains; exactly one exists per PolicyID (§3).
type RoutingPolicy struct {
	ID                  PolicyID
	CanonicalName       string
	DNSZone             string // optional
	InstanceEndpointIDs map[string]struct{}
	ApplicationEndpointIDs map[string]struct{}
	Status              RoutingPolicyStatus
}

// ZoneRoutingPolicy is the operator-level override for an entire zone;
// OUT forces every policy in the zone to contribute zero weight.
type ZoneRoutingPolicy struct {
	Zone          string
	RoutingStatus RoutingStatusOverride
}

// EndpointScope is the tagged-variant discriminator for Endpoint.
type EndpointScope string

const (
	ScopeZone        EndpointScope = "zone"
	ScopeRegion      EndpointScope = "region"
	ScopeGlobal      EndpointScope = "global"
	ScopeApplication EndpointScope = "application"
)

// Target is one weighted or latency record contributed to an endpoint.
type Target struct {
	Name   string // the zone or region this target represents
	Weight int    // 0 when configured out; >0 when live
	Active bool
}

// Endpoint is the shared behavior of the four tagged endpoint variants
// derived by the Routing Policy Reconciler (§4.3, §9 redesign note).
type Endpoint interface {
	DNSName() string
	Targets() []Target
	Scope() EndpointScope
	// Active reports whether at least one target is active — callers
	// use this after the NXDOMAIN-safety rule has run.
	Active() bool
}

// ZoneEndpoint is a CNAME from a stable DNS name to a policy's
// canonical name.
type ZoneEndpoint struct {
	Name          string
	CanonicalName string
}

func (e ZoneEndpoint) DNSName() string      { return e.Name }
func (e ZoneEndpoint) Scope() EndpointScope { return ScopeZone }
func (e ZoneEndpoint) Targets() []Target {
	return []Target{{Name: e.CanonicalName, Weight: 1, Active: true}}
}
func (e ZoneEndpoint) Active() bool { return true }

// RegionEndpoint is a weighted-alias group, one record per zone in the
// region.
type RegionEndpoint struct {
	Name         string
	ZoneTargets  []Target
}

func (e RegionEndpoint) DNSName() string      { return e.Name }
func (e RegionEndpoint) Scope() EndpointScope { return ScopeRegion }
func (e RegionEndpoint) Targets() []Target    { return e.ZoneTargets }
func (e RegionEndpoint) Active() bool {
	for _, t := range e.ZoneTargets {
		if t.Active {
			return true
		}
	}
	return false
}

// GlobalEndpoint is a latency-alias group, one record per region.
type GlobalEndpoint struct {
	Name           string
	RegionTargets  []Target
}

func (e GlobalEndpoint) DNSName() string      { return e.Name }
func (e GlobalEndpoint) Scope() EndpointScope { return ScopeGlobal }
func (e GlobalEndpoint) Targets() []Target    { return e.RegionTargets }
func (e GlobalEndpoint) Active() bool {
	for _, t := range e.RegionTargets {
		if t.Active {
			return true
		}
	}
	return false
}

// ApplicationEndpoint aggregates weighted targets across all (zone,
// instance) pairs matching its declared target region and instance.
type ApplicationEndpoint struct {
	ID            string
	Name          string
	WeightedTargets []Target
}

func (e ApplicationEndpoint) DNSName() string      { return e.Name }
func (e ApplicationEndpoint) Scope() EndpointScope { return ScopeApplication }
func (e ApplicationEndpoint) Targets() []Target    { return e.WeightedTargets }
func (e ApplicationEndpoint) Active() bool {
	for _, t := range e.WeightedTargets {
		if t.Active {
			return true
		}
	}
	return false
}
