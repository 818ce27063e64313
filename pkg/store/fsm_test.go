package store

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgeline-cloud/controlplane/pkg/events"
	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

func newTestFSM(t *testing.T) (*fsm, *boltView) {
	t.Helper()
	v := newTestView(t)
	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)
	return newFSM(v, broker), v
}

func mustCommand(t *testing.T, op string, data any) Command {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	return Command{Op: op, Data: raw}
}

func TestFSM_ApplyWriteNode(t *testing.T) {
	f, v := newTestFSM(t)

	n := &types.Node{Hostname: "host-1.example", Type: types.NodeTypeHost, State: types.StateReady}
	err := f.apply(mustCommand(t, opWriteNode, n))
	require.NoError(t, err)

	got, err := v.readNode("host-1.example")
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, got.State)
}

func TestFSM_ApplyTxn_AllOrNothingOnSuccess(t *testing.T) {
	f, v := newTestFSM(t)

	nodeA := &types.Node{Hostname: "a", Type: types.NodeTypeHost, State: types.StateReady}
	nodeB := &types.Node{Hostname: "b", Type: types.NodeTypeHost, State: types.StateReady}

	sub := []Command{
		mustCommand(t, opWriteNode, nodeA),
		mustCommand(t, opWriteNode, nodeB),
	}
	subData, err := json.Marshal(sub)
	require.NoError(t, err)

	err = f.apply(Command{Op: opTxn, Data: subData})
	require.NoError(t, err)

	_, err = v.readNode("a")
	assert.NoError(t, err)
	_, err = v.readNode("b")
	assert.NoError(t, err)
}

func TestFSM_ApplyTxn_SubCommandFailureStopsRemaining(t *testing.T) {
	f, v := newTestFSM(t)

	sub := []Command{
		mustCommand(t, opWriteNode, &types.Node{Hostname: "a", Type: types.NodeTypeHost, State: types.StateReady}),
		{Op: "not_a_real_op", Data: json.RawMessage("{}")},
		mustCommand(t, opWriteNode, &types.Node{Hostname: "b", Type: types.NodeTypeHost, State: types.StateReady}),
	}
	subData, err := json.Marshal(sub)
	require.NoError(t, err)

	err = f.apply(Command{Op: opTxn, Data: subData})
	require.Error(t, err)

	_, err = v.readNode("a")
	assert.NoError(t, err, "commands before the failing one in the batch still apply")
	_, err = v.readNode("b")
	assert.Error(t, err, "commands after the failing one must not apply")
}

func TestFSM_ApplyUnknownOp(t *testing.T) {
	f, _ := newTestFSM(t)

	err := f.apply(Command{Op: "bogus", Data: json.RawMessage("{}")})
	assert.Error(t, err)
}

func TestFSM_SnapshotRestore_RoundTrip(t *testing.T) {
	f, v := newTestFSM(t)

	require.NoError(t, v.writeNode(&types.Node{Hostname: "a", Type: types.NodeTypeHost, State: types.StateActive}))
	require.NoError(t, v.writeRoutingPolicy(&types.RoutingPolicy{ID: types.PolicyID{Owner: "app1", Cluster: "default", Zone: "us-east"}, CanonicalName: "app1.example"}))
	require.NoError(t, v.writeZoneRoutingPolicy(&types.ZoneRoutingPolicy{Zone: "us-east"}))
	require.NoError(t, v.writeRun(types.NewRun(types.RunID{Application: "app1", JobType: "deploy", Number: 1}, types.Versions{}, false, false, zeroTime)))

	snap, err := f.Snapshot()
	require.NoError(t, err)

	restoreView := newTestView(t)
	restoreFSM := newFSM(restoreView, nil)

	data, err := json.Marshal(snap)
	require.NoError(t, err)

	require.NoError(t, restoreFSM.Restore(io.NopCloser(bytes.NewReader(data))))

	got, err := restoreView.readNode("a")
	require.NoError(t, err)
	assert.Equal(t, types.StateActive, got.State)

	policies, err := restoreView.readRoutingPolicies("app1")
	require.NoError(t, err)
	require.Len(t, policies, 1)

	runs, err := restoreView.readRuns("app1", "deploy")
	require.NoError(t, err)
	require.Len(t, runs, 1)
}
