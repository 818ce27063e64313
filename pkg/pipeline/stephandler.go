// Package pipeline is the Deployment Pipeline Runner (§4.4): it
// advances each job's runs one step at a time against an external
// step-handler, persisting typed results and mapping failures to run
// statuses.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ridgeline-cloud/controlplane/pkg/errkind"
	"github.com/ridgeline-cloud/controlplane/pkg/types"
)

// FailureReason tags a step failure with the specific condition the
// step handler observed, letting the runner pick the precise run
// status §4.4 names rather than a generic one.
type FailureReason string

const (
	FailureNone               FailureReason = ""
	FailureResourceExhaustion FailureReason = "resourceExhaustion"
	FailureCertificateTimeout FailureReason = "certificateTimeout"
	FailureInvalidJVMOptions  FailureReason = "invalidJvmOptions"
)

// StepOutcome is the step handler's verdict for one dispatch attempt.
type StepOutcome string

const (
	OutcomeSucceeded StepOutcome = "succeeded"
	OutcomeRetry     StepOutcome = "retry" // transient — leave the step unfinished
	OutcomeFailed    StepOutcome = "failed"
)

// StepRequest carries everything the step handler needs to execute one
// step: the run's identity, the step to run, and the flags that change
// step behavior (§4.4's isRedeployment/isDryRun).
type StepRequest struct {
	RunID          types.RunID
	Step           types.Step
	IsRedeployment bool
	IsDryRun       bool
	Versions       types.Versions
}

// StepResult is the step handler's response.
type StepResult struct {
	Outcome       StepOutcome
	FailureReason FailureReason
	Message       string
}

// StepHandler is the external boundary named in §4.4 ("the handler is
// external to this component"). The runner only drives this dispatch
// loop; it never implements a step body.
type StepHandler interface {
	ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error)
}

// grpcStepHandler dispatches ExecuteStep over a plain gRPC unary call.
// Request/response payloads are carried as structpb.Struct rather than
// a dedicated protoc-generated message: the wire shape is small and
// stable enough that a generic well-known-type message avoids needing
// a .proto/protoc-gen-go compilation step while still exercising a
// real proto.Message over a real grpc.ClientConn, deadline included.
type grpcStepHandler struct {
	conn   *grpc.ClientConn
	method string
}

// NewGRPCStepHandler returns a StepHandler that calls the StepHandler
// service's single ExecuteStep RPC over conn, an already-dialed
// connection.
func NewGRPCStepHandler(conn *grpc.ClientConn) StepHandler {
	return &grpcStepHandler{conn: conn, method: "/stephandler.StepHandler/ExecuteStep"}
}

func (h *grpcStepHandler) ExecuteStep(ctx context.Context, req StepRequest) (StepResult, error) {
	// Every dispatch gets its own request ID so the handler's own logs
	// can be correlated with a specific attempt across retries.
	requestID := uuid.NewString()
	reqMsg, err := structpb.NewStruct(map[string]any{
		"requestId":      requestID,
		"application":    req.RunID.Application,
		"jobType":        req.RunID.JobType,
		"runNumber":      req.RunID.Number,
		"step":           string(req.Step),
		"isRedeployment": req.IsRedeployment,
		"isDryRun":       req.IsDryRun,
	})
	if err != nil {
		return StepResult{}, errkind.Permanentf(err, "pipeline: failed to encode step request")
	}

	respMsg := &structpb.Struct{}
	if err := h.conn.Invoke(ctx, h.method, reqMsg, respMsg); err != nil {
		return StepResult{}, errkind.Transientf(err, "pipeline: ExecuteStep RPC failed for %s/%s", req.Step, req.RunID.Application)
	}

	fields := respMsg.GetFields()
	result := StepResult{
		Outcome:       StepOutcome(fields["outcome"].GetStringValue()),
		FailureReason: FailureReason(fields["failureReason"].GetStringValue()),
		Message:       fields["message"].GetStringValue(),
	}
	if result.Outcome == "" {
		return StepResult{}, errkind.Permanentf(nil, "pipeline: step handler returned no outcome for %s", req.Step)
	}
	return result, nil
}

// backoff is the step-retry exponential backoff, capped at the same 30s
// ceiling as the forwarder's dispatch backoff (which grows linearly,
// not by doubling).
func backoff(attempt int) time.Duration {
	d := time.Second
	for i := 0; i < attempt && d < 30*time.Second; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (r FailureReason) String() string { return string(r) }
