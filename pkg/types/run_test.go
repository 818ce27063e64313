package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunStatus_IsTerminal(t *testing.T) {
	terminal := []RunStatus{
		RunStatusSuccess, RunStatusAborted, RunStatusDeploymentFailed,
		RunStatusInstallationFailed, RunStatusTestFailure, RunStatusOutOfCapacity,
		RunStatusEndpointCertificateTimeout, RunStatusError,
	}
	for _, s := range terminal {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	assert.False(t, RunStatusRunning.IsTerminal())
	assert.False(t, RunStatusReset.IsTerminal())
}

func TestVersions_HasSource(t *testing.T) {
	both, err := Versions{SourcePlatform: "p", SourceApplication: "a"}.HasSource()
	require.NoError(t, err)
	assert.True(t, both)

	neither, err := Versions{}.HasSource()
	require.NoError(t, err)
	assert.False(t, neither)

	_, err = Versions{SourcePlatform: "p"}.HasSource()
	assert.Error(t, err)

	_, err = Versions{SourceApplication: "a"}.HasSource()
	assert.Error(t, err)
}

func TestConvergenceSummary_RoundTripsAsPositionalArray(t *testing.T) {
	c := ConvergenceSummary{
		Nodes: 10, Down: 1, UpgradingOS: 2, UpgradingFirmware: 3,
		NeedPlatformUpgrade: 4, UpgradingPlatform: 5, NeedReboot: 6,
		Rebooting: 7, NeedRestart: 8, Restarting: 9, Services: 11,
		NeedNewConfig: 12, Retiring: 13,
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.Equal(t, "[10,1,2,3,4,5,6,7,8,9,11,12,13]", string(data))

	var out ConvergenceSummary
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, c, out)
}

func TestConvergenceSummary_UnmarshalRejectsWrongLength(t *testing.T) {
	var out ConvergenceSummary
	err := json.Unmarshal([]byte("[1,2,3]"), &out)
	assert.Error(t, err)
}

func TestNewRun_InitializesEveryStepUnfinished(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRun(RunID{Application: "app-a", JobType: "deploy", Number: 1}, Versions{}, false, false, start)

	assert.Equal(t, RunStatusRunning, r.Status)
	assert.Len(t, r.Steps, len(StepOrder))
	for _, s := range StepOrder {
		info, ok := r.Steps[s]
		require.True(t, ok, "missing step %s", s)
		assert.Equal(t, StepUnfinished, info.Status)
	}
}

func TestRun_NextUnfinishedStep(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRun(RunID{Application: "app-a", JobType: "deploy", Number: 1}, Versions{}, false, false, start)

	first, ok := r.NextUnfinishedStep()
	require.True(t, ok)
	assert.Equal(t, StepOrder[0], first)

	r.Steps[StepOrder[0]] = StepInfo{Status: StepSucceeded}
	next, ok := r.NextUnfinishedStep()
	require.True(t, ok)
	assert.Equal(t, StepOrder[1], next)
}

func TestRun_NextUnfinishedStep_NoneLeft(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r := NewRun(RunID{Application: "app-a", JobType: "deploy", Number: 1}, Versions{}, false, false, start)
	for s := range r.Steps {
		r.Steps[s] = StepInfo{Status: StepSucceeded}
	}
	_, ok := r.NextUnfinishedStep()
	assert.False(t, ok)
}
