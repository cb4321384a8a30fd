package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dop251/goja"

	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/pkg/model"
)

// LogicalOperation selects how CONDITIONAL_JOB folds dependency statuses.
type LogicalOperation string

const (
	AllSuccess LogicalOperation = "ALL_SUCCESS"
	AnySuccess LogicalOperation = "ANY_SUCCESS"
	AllFailure LogicalOperation = "ALL_FAILURE"
	AnyFailure LogicalOperation = "ANY_FAILURE"
	NSuccess   LogicalOperation = "N_SUCCESS"
	NFailure   LogicalOperation = "N_FAILURE"
	Expression LogicalOperation = "EXPRESSION"
)

func (op LogicalOperation) valid() bool {
	switch op {
	case AllSuccess, AnySuccess, AllFailure, AnyFailure, NSuccess, NFailure, Expression:
		return true
	}
	return false
}

// Branch names the job to create when a condition resolves one way.
type Branch struct {
	Type  string          `json:"type"`
	Input json.RawMessage `json:"input,omitempty"`
}

// ConditionalOutput is the result of a CONDITIONAL_JOB.
type ConditionalOutput struct {
	Status       string `json:"status"`
	Condition    bool   `json:"condition"`
	SpawnedJobID *int   `json:"spawnedJobId,omitempty"`
	Error        string `json:"error,omitempty"`
}

// spawner is the subset of System a conditional job needs.
type spawner interface {
	upstream
	CreateJob(typeName string, input json.RawMessage) (jobsystem.Job, error)
	Submit(job jobsystem.Job) error
}

// ConditionalJob evaluates a condition over the statuses of its
// dependencies and submits the matching branch job.
type ConditionalJob struct {
	*jobsystem.Base

	Operation   LogicalOperation `json:"logicalOperation"`
	TargetCount *int             `json:"targetCount"`
	Expr        string           `json:"expression"`
	IfTrue      *Branch          `json:"ifTrue"`
	Else        *Branch          `json:"else"`

	sys    spawner
	logger *slog.Logger
}

func newConditionalFactory(sys spawner, logger *slog.Logger) jobsystem.Factory {
	return func(base *jobsystem.Base, input json.RawMessage) (jobsystem.Job, error) {
		j := &ConditionalJob{Base: base, sys: sys, logger: logger}
		if err := decodeInput(input, j); err != nil {
			return nil, err
		}
		if j.Operation == "" {
			j.Operation = AllSuccess
		}
		j.Operation = LogicalOperation(strings.ToUpper(string(j.Operation)))
		if !j.Operation.valid() {
			return nil, fmt.Errorf("%w: unknown logicalOperation %q", jobsystem.ErrInvalidInput, j.Operation)
		}
		if j.Operation == Expression && strings.TrimSpace(j.Expr) == "" {
			return nil, fmt.Errorf("%w: EXPRESSION requires an expression", jobsystem.ErrInvalidInput)
		}
		base.SetDefaultChannelMask(model.ChannelGeneral)
		return j, nil
	}
}

func (j *ConditionalJob) targetCount() int {
	if j.TargetCount == nil {
		return 1
	}
	return *j.TargetCount
}

func (j *ConditionalJob) Execute(ctx context.Context) {
	out := j.run(ctx)
	_ = j.SetOutput(out)
}

func (j *ConditionalJob) run(ctx context.Context) ConditionalOutput {
	deps := j.Dependencies()
	if len(deps) == 0 {
		return ConditionalOutput{Status: StatusFailure, Error: "no dependencies: nothing to evaluate"}
	}

	statuses := make([]string, len(deps))
	outputs := make([]any, len(deps))
	for i, id := range deps {
		statuses[i] = StatusFailure
		raw, ok := j.sys.Output(id)
		if !ok {
			continue
		}
		var doc map[string]any
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		outputs[i] = doc
		if s, ok := doc["status"].(string); ok {
			statuses[i] = s
		}
	}

	cond, err := j.evaluate(ctx, statuses, outputs)
	if err != nil {
		return ConditionalOutput{Status: StatusFailure, Error: err.Error()}
	}

	branch := j.Else
	if cond {
		branch = j.IfTrue
	}
	out := ConditionalOutput{Status: StatusSuccess, Condition: cond}
	if branch == nil || branch.Type == "" {
		return out
	}

	job, err := j.sys.CreateJob(branch.Type, branch.Input)
	if err == nil {
		err = j.sys.Submit(job)
	}
	if err != nil {
		j.logger.Warn("conditional branch not submitted", "job_id", j.ID(), "branch_type", branch.Type, "error", err)
		out.Status = StatusFailure
		out.Error = err.Error()
		return out
	}
	id := job.ID()
	out.SpawnedJobID = &id
	return out
}

func (j *ConditionalJob) evaluate(ctx context.Context, statuses []string, outputs []any) (bool, error) {
	var successes, failures int
	for _, s := range statuses {
		switch s {
		case StatusSuccess:
			successes++
		case StatusFailure:
			failures++
		}
	}

	switch j.Operation {
	case AllSuccess:
		return successes == len(statuses), nil
	case AnySuccess:
		return successes > 0, nil
	case AllFailure:
		return failures == len(statuses), nil
	case AnyFailure:
		return failures > 0, nil
	case NSuccess:
		return successes >= j.targetCount(), nil
	case NFailure:
		return failures >= j.targetCount(), nil
	case Expression:
		return evalExpression(ctx, j.Expr, map[string]any{
			"successes": successes,
			"failures":  failures,
			"total":     len(statuses),
			"statuses":  statuses,
			"outputs":   outputs,
		})
	}
	return false, fmt.Errorf("unknown logical operation %q", j.Operation)
}

// evalExpression runs expr in a fresh JavaScript VM with vars bound as
// globals and returns its truthiness. Cancelling ctx interrupts the VM.
func evalExpression(ctx context.Context, expr string, vars map[string]any) (bool, error) {
	vm := goja.New()
	for name, v := range vars {
		if err := vm.Set(name, v); err != nil {
			return false, fmt.Errorf("set %s: %w", name, err)
		}
	}

	stop := context.AfterFunc(ctx, func() { vm.Interrupt("cancelled") })
	defer stop()

	val, err := vm.RunString(expr)
	if err != nil {
		return false, fmt.Errorf("evaluate expression: %w", err)
	}
	return val.ToBoolean(), nil
}
