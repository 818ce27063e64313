package codec

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// v1Run is a stand-in for a Run document written by an older controller
// build that predates some optional field.
type v1Run struct {
	ID     types.RunID
	Status types.RunStatus
}

// v2Run adds an optional field, mirroring a forward-compatible schema
// change.
type v2Run struct {
	ID     types.RunID
	Status types.RunStatus
	Foo    string `json:"foo,omitempty"`
}

func TestDecode_NewOptionalFieldIgnoredByOldReader(t *testing.T) {
	data, err := Encode(v2Run{
		ID:     types.RunID{Application: "a", JobType: "deploy", Number: 1},
		Status: types.RunStatusRunning,
		Foo:    "added-later",
	})
	require.NoError(t, err)

	var old v1Run
	require.NoError(t, Decode(data, &old))
	assert.Equal(t, "a", old.ID.Application)
	assert.Equal(t, types.RunStatusRunning, old.Status)
}

func TestDecode_MissingOptionalFieldZeroValue(t *testing.T) {
	data, err := Encode(v1Run{
		ID:     types.RunID{Application: "a", JobType: "deploy", Number: 1},
		Status: types.RunStatusSuccess,
	})
	require.NoError(t, err)

	var newer v2Run
	require.NoError(t, Decode(data, &newer))
	assert.Equal(t, "", newer.Foo)
	assert.Equal(t, types.RunStatusSuccess, newer.Status)
}

func TestRoundTrip_Node(t *testing.T) {
	n := &types.Node{
		Hostname: "host-1.example",
		Type:     types.NodeTypeTenant,
		State:    types.StateActive,
		Allocation: &types.Allocation{
			OwnerApplication: "app1",
			Cluster:          "default",
			MembershipIndex:  0,
		},
		History: []types.HistoryEvent{{EventType: types.HistoryActivated, Agent: "system", Instant: time.Now().UTC()}},
	}

	data, err := Encode(n)
	require.NoError(t, err)

	var out types.Node
	require.NoError(t, Decode(data, &out))
	assert.Equal(t, n.Hostname, out.Hostname)
	assert.Equal(t, n.State, out.State)
	require.NotNil(t, out.Allocation)
	assert.Equal(t, n.Allocation.OwnerApplication, out.Allocation.OwnerApplication)
}

func TestConvergenceSummary_RoundTrip(t *testing.T) {
	cs := types.ConvergenceSummary{
		Nodes: 10, Down: 1, UpgradingOS: 2, UpgradingFirmware: 0,
		NeedPlatformUpgrade: 1, UpgradingPlatform: 0, NeedReboot: 3,
		Rebooting: 0, NeedRestart: 1, Restarting: 0, Services: 5,
		NeedNewConfig: 0, Retiring: 1,
	}

	data, err := json.Marshal(cs)
	require.NoError(t, err)

	var out types.ConvergenceSummary
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, cs, out)
}

func TestConvergenceSummary_RejectsShortenedArray(t *testing.T) {
	// A 12-element array (field removed) must be rejected, per S6.
	shortened := "[1,2,3,4,5,6,7,8,9,10,11,12]"

	var out types.ConvergenceSummary
	err := json.Unmarshal([]byte(shortened), &out)
	require.Error(t, err)
}

func TestConvergenceSummary_RejectsLengthenedArray(t *testing.T) {
	lengthened := "[1,2,3,4,5,6,7,8,9,10,11,12,13,14]"

	var out types.ConvergenceSummary
	err := json.Unmarshal([]byte(lengthened), &out)
	require.Error(t, err)
}
