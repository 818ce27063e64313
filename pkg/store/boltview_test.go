package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

var zeroTime = time.Time{}

func newTestView(t *testing.T) *boltView {
	t.Helper()
	v, err := newBoltView(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { v.Close() })
	return v
}

func TestBoltView_WriteReadNode(t *testing.T) {
	v := newTestView(t)

	n := &types.Node{Hostname: "host-1.example", Type: types.NodeTypeHost, State: types.StateReady}
	require.NoError(t, v.writeNode(n))

	got, err := v.readNode("host-1.example")
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, got.State)
}

func TestBoltView_ReadNode_NotFound(t *testing.T) {
	v := newTestView(t)

	_, err := v.readNode("missing.example")
	require.Error(t, err)
}

func TestBoltView_WriteNode_StateChangeMovesKey(t *testing.T) {
	v := newTestView(t)

	n := &types.Node{Hostname: "host-1.example", Type: types.NodeTypeHost, State: types.StateReady}
	require.NoError(t, v.writeNode(n))

	n.State = types.StateActive
	require.NoError(t, v.writeNode(n))

	nodes, err := v.readNodes([]types.State{types.StateReady})
	require.NoError(t, err)
	assert.Empty(t, nodes, "stale ready-state entry must not linger after the node moved to active")

	nodes, err = v.readNodes([]types.State{types.StateActive})
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	assert.Equal(t, "host-1.example", nodes[0].Hostname)
}

func TestBoltView_ReadNodes_FiltersByState(t *testing.T) {
	v := newTestView(t)

	require.NoError(t, v.writeNode(&types.Node{Hostname: "a", Type: types.NodeTypeHost, State: types.StateActive}))
	require.NoError(t, v.writeNode(&types.Node{Hostname: "b", Type: types.NodeTypeHost, State: types.StateFailed}))
	require.NoError(t, v.writeNode(&types.Node{Hostname: "c", Type: types.NodeTypeHost, State: types.StateActive}))

	active, err := v.readNodes([]types.State{types.StateActive})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := v.readNodes(nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestBoltView_RemoveNode(t *testing.T) {
	v := newTestView(t)

	require.NoError(t, v.writeNode(&types.Node{Hostname: "a", Type: types.NodeTypeHost, State: types.StateReady}))
	require.NoError(t, v.removeNode("a"))

	_, err := v.readNode("a")
	assert.Error(t, err)
}

func TestBoltView_RoutingPolicies_WriteReadRemove(t *testing.T) {
	v := newTestView(t)

	id := types.PolicyID{Owner: "app1", Cluster: "default", Zone: "us-east"}
	p := &types.RoutingPolicy{ID: id, CanonicalName: "app1.us-east.example"}
	require.NoError(t, v.writeRoutingPolicy(p))

	got, err := v.readRoutingPolicies("app1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "app1.us-east.example", got[0].CanonicalName)

	none, err := v.readRoutingPolicies("other-app")
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, v.removeRoutingPolicy(id))
	got, err = v.readRoutingPolicies("app1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestBoltView_ZoneRoutingPolicy_AbsentDefaultsEmpty(t *testing.T) {
	v := newTestView(t)

	p, err := v.readZoneRoutingPolicy("us-east")
	require.NoError(t, err)
	assert.Equal(t, "us-east", p.Zone)
	assert.Empty(t, p.RoutingStatus.Value)
}

func TestBoltView_ZoneRoutingPolicy_WriteRead(t *testing.T) {
	v := newTestView(t)

	want := &types.ZoneRoutingPolicy{Zone: "us-east", RoutingStatus: types.RoutingStatusOverride{
		Value: types.RoutingStatusOUT, Agent: "operator",
	}}
	require.NoError(t, v.writeZoneRoutingPolicy(want))

	got, err := v.readZoneRoutingPolicy("us-east")
	require.NoError(t, err)
	assert.Equal(t, types.RoutingStatusOUT, got.RoutingStatus.Value)
}

func TestBoltView_Runs_WriteReadOrdered(t *testing.T) {
	v := newTestView(t)

	for _, n := range []int{3, 1, 2} {
		r := types.NewRun(types.RunID{Application: "app1", JobType: "deploy", Number: n}, types.Versions{}, false, false, zeroTime)
		require.NoError(t, v.writeRun(r))
	}

	runs, err := v.readRuns("app1", "deploy")
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, 1, runs[0].ID.Number)
	assert.Equal(t, 2, runs[1].ID.Number)
	assert.Equal(t, 3, runs[2].ID.Number)
}

func TestBoltView_Runs_ScopedByApplicationAndJobType(t *testing.T) {
	v := newTestView(t)

	require.NoError(t, v.writeRun(types.NewRun(types.RunID{Application: "app1", JobType: "deploy", Number: 1}, types.Versions{}, false, false, zeroTime)))
	require.NoError(t, v.writeRun(types.NewRun(types.RunID{Application: "app2", JobType: "deploy", Number: 1}, types.Versions{}, false, false, zeroTime)))

	runs, err := v.readRuns("app1", "deploy")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "app1", runs[0].ID.Application)
}
