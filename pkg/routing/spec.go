package routing

// InstanceSpec names one (cluster, zone) pair the application is
// deployed to. Cluster doubles as the "endpoint" grouping key used to
// derive region and global aliases: every instance sharing a cluster
// name across zones is one region/global endpoint group, following the
// deployment spec's instance-addressing convention.
type InstanceSpec struct {
	Cluster string
	Zone    string
}

// ApplicationEndpointSpec is one declared application-level endpoint:
// an aggregation of weighted targets across every (zone, instance)
// pair whose cluster is in Instances and whose zone's region matches
// Region (empty Region means every region).
type ApplicationEndpointSpec struct {
	ID        string
	Region    string
	Instances []string
}

// DeploymentSpec is the declarative per-application input to one
// reconciliation pass (§4.3's "the application's deployment spec").
type DeploymentSpec struct {
	Application          string
	Instances            []InstanceSpec
	InactiveZones        map[string]bool
	ApplicationEndpoints []ApplicationEndpointSpec
}
