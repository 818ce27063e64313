package pipeline

import (
	"context"
	"time"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
	"github.com/ridgeline-cloud/controlplane/pkg/log"
	"github.com/ridgeline-cloud/controlplane/pkg/metrics"
	"github.com/ridgeline-cloud/controlplane/pkg/store"
	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// Clock is the source of wall-clock time, pluggable so tests can
// control sleepingUntil/backoff without real sleeps.
type Clock interface{ Now() time.Time }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Runner is the Deployment Pipeline Runner.
type Runner struct {
	store   *store.Store
	handler StepHandler
	clock   Clock
}

// New constructs a Runner. A nil clock defaults to the real wall clock.
func New(s *store.Store, handler StepHandler, clock Clock) *Runner {
	if clock == nil {
		clock = realClock{}
	}
	return &Runner{store: s, handler: handler, clock: clock}
}

// Submit starts a new run for (application, jobType), enforcing
// invariant 4 of §8: run numbers strictly increasing, at most one
// non-terminal run per job at a time.
func (r *Runner) Submit(ctx context.Context, holder *store.LockHolder, application, jobType string, versions types.Versions, isRedeployment, isDryRun bool) (*types.Run, error) {
	unlock, err := r.store.LockDeployer(ctx, holder, application)
	if err != nil {
		return nil, err
	}
	defer unlock.Unlock()

	if _, err := versions.HasSource(); err != nil {
		return nil, errkind.Invariantf("pipeline: %v", err)
	}

	runs, err := r.store.ReadRuns(application, jobType)
	if err != nil {
		return nil, err
	}

	nextNumber := 1
	for _, run := range runs {
		if run.ID.Number >= nextNumber {
			nextNumber = run.ID.Number + 1
		}
		if !run.Status.IsTerminal() {
			return nil, errkind.Conflictf("pipeline: %s/%s already has a non-terminal run #%d", application, jobType, run.ID.Number)
		}
	}

	run := types.NewRun(types.RunID{Application: application, JobType: jobType, Number: nextNumber}, versions, isRedeployment, isDryRun, r.clock.Now())
	if err := r.store.WriteRun(run); err != nil {
		return nil, err
	}
	metrics.RunsTotal.WithLabelValues(string(run.Status)).Inc()
	return run, nil
}

// Advance dispatches at most one step of the named run: it selects the
// first unfinished step, calls the step handler, persists the result,
// and returns. Safe to call repeatedly — each call advances the run by
// no more than one step, per §5's "advances at most one step per run
// per tick."
func (r *Runner) Advance(ctx context.Context, holder *store.LockHolder, application, jobType string, runNumber int) error {
	unlock, err := r.store.LockDeployer(ctx, holder, application)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	run, err := r.findRun(application, jobType, runNumber)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return nil
	}
	if run.SleepingUntil != nil && r.clock.Now().Before(*run.SleepingUntil) {
		return nil
	}

	step, ok := run.NextUnfinishedStep()
	if !ok {
		return r.finish(run, types.RunStatusSuccess)
	}

	info := run.Steps[step]
	if info.StartTime.IsZero() {
		info.StartTime = r.clock.Now()
	}
	run.Steps[step] = info

	timer := metrics.NewTimer()
	result, err := r.handler.ExecuteStep(ctx, StepRequest{
		RunID:          run.ID,
		Step:           step,
		IsRedeployment: run.IsRedeployment,
		IsDryRun:       run.IsDryRun,
		Versions:       run.Versions,
	})
	timer.ObserveDurationVec(metrics.StepDuration, string(step))

	if err != nil {
		if errkind.Is(err, errkind.Transient) {
			metrics.StepRetriesTotal.WithLabelValues(string(step)).Inc()
			info.Attempts++
			run.Steps[step] = info
			run.SleepingUntil = r.sleepUntil(info.Attempts)
			return r.store.WriteRun(run)
		}
		run.Steps[step] = types.StepInfo{Status: types.StepFailed, StartTime: info.StartTime, Attempts: info.Attempts}
		log.WithRun(application, jobType, runNumber).Error().Err(err).Str("step", string(step)).Msg("step handler call failed")
		return r.finish(run, types.RunStatusError)
	}

	switch result.Outcome {
	case OutcomeSucceeded:
		run.Steps[step] = types.StepInfo{Status: types.StepSucceeded, StartTime: info.StartTime, Attempts: info.Attempts}
		run.SleepingUntil = nil
		return r.store.WriteRun(run)

	case OutcomeRetry:
		metrics.StepRetriesTotal.WithLabelValues(string(step)).Inc()
		info.Attempts++
		run.Steps[step] = info
		run.SleepingUntil = r.sleepUntil(info.Attempts)
		return r.store.WriteRun(run)

	case OutcomeFailed:
		run.Steps[step] = types.StepInfo{Status: types.StepFailed, StartTime: info.StartTime}
		return r.finish(run, runStatusForFailure(step, result))

	default:
		run.Steps[step] = types.StepInfo{Status: types.StepFailed, StartTime: info.StartTime}
		return r.finish(run, types.RunStatusError)
	}
}

// Abort drives a non-terminal run to aborted, running only the
// cleanup steps (§4.4): deactivateReal, deactivateTester,
// copyVespaLogs, report, in that order, regardless of which step the
// run was on.
func (r *Runner) Abort(ctx context.Context, holder *store.LockHolder, application, jobType string, runNumber int) error {
	unlock, err := r.store.LockDeployer(ctx, holder, application)
	if err != nil {
		return err
	}
	defer unlock.Unlock()

	run, err := r.findRun(application, jobType, runNumber)
	if err != nil {
		return err
	}
	if run.Status.IsTerminal() {
		return errkind.Invariantf("pipeline: run %+v is already terminal", run.ID)
	}

	for _, step := range types.CleanupSteps {
		result, err := r.handler.ExecuteStep(ctx, StepRequest{
			RunID:          run.ID,
			Step:           step,
			IsRedeployment: run.IsRedeployment,
			IsDryRun:       run.IsDryRun,
			Versions:       run.Versions,
		})
		status := types.StepSucceeded
		if err != nil || result.Outcome != OutcomeSucceeded {
			// Cleanup steps best-effort on abort — a failed cleanup
			// step does not block the run from reaching aborted.
			status = types.StepFailed
			log.WithRun(application, jobType, runNumber).Warn().Str("step", string(step)).Msg("cleanup step failed during abort")
		}
		run.Steps[step] = types.StepInfo{Status: status, StartTime: r.clock.Now()}
	}

	return r.finish(run, types.RunStatusAborted)
}

func (r *Runner) finish(run *types.Run, status types.RunStatus) error {
	run.Status = status
	now := r.clock.Now()
	run.End = &now
	run.SleepingUntil = nil
	metrics.RunsTotal.WithLabelValues(string(status)).Inc()
	return r.store.WriteRun(run)
}

func (r *Runner) findRun(application, jobType string, runNumber int) (*types.Run, error) {
	runs, err := r.store.ReadRuns(application, jobType)
	if err != nil {
		return nil, err
	}
	for _, run := range runs {
		if run.ID.Number == runNumber {
			return run, nil
		}
	}
	return nil, errkind.NotFoundf("pipeline: no run #%d for %s/%s", runNumber, application, jobType)
}

// sleepUntil computes the next dispatch instant, backing off
// exponentially by the number of times this step has already retried.
func (r *Runner) sleepUntil(attempts int) *time.Time {
	until := r.clock.Now().Add(backoff(attempts))
	return &until
}

// runStatusForFailure maps a terminal step failure to a run status,
// per §4.4's failure semantics: a resource-exhaustion deployment error
// maps to outOfCapacity, a certificate-provision timeout maps to
// endpointCertificateTimeout, an invalid-JVM-options deployment error
// is the open question resolved terminal-permanent as deploymentFailed
// (§9), and otherwise the status follows which phase the failing step
// belongs to, falling back to error for anything unrecognized.
func runStatusForFailure(step types.Step, result StepResult) types.RunStatus {
	switch result.FailureReason {
	case FailureResourceExhaustion:
		return types.RunStatusOutOfCapacity
	case FailureCertificateTimeout:
		return types.RunStatusEndpointCertificateTimeout
	case FailureInvalidJVMOptions:
		return types.RunStatusDeploymentFailed
	}

	switch step {
	case types.StepDeployInitialReal, types.StepDeployReal, types.StepDeployTester:
		return types.RunStatusDeploymentFailed
	case types.StepInstallInitialReal, types.StepInstallReal, types.StepInstallTester:
		return types.RunStatusInstallationFailed
	case types.StepStartStagingSetup, types.StepEndStagingSetup, types.StepStartTests, types.StepEndTests:
		return types.RunStatusTestFailure
	default:
		return types.RunStatusError
	}
}
