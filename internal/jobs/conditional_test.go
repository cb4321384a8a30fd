package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/me/jobsys/internal/jobsystem"
	"github.com/me/jobsys/pkg/model"
)

func TestConditional_Evaluate(t *testing.T) {
	three := 3
	tests := []struct {
		name     string
		job      ConditionalJob
		statuses []string
		want     bool
	}{
		{"all success true", ConditionalJob{Operation: AllSuccess}, []string{"success", "success"}, true},
		{"all success false", ConditionalJob{Operation: AllSuccess}, []string{"success", "failure"}, false},
		{"any success", ConditionalJob{Operation: AnySuccess}, []string{"failure", "success"}, true},
		{"any success none", ConditionalJob{Operation: AnySuccess}, []string{"failure", "failure"}, false},
		{"all failure", ConditionalJob{Operation: AllFailure}, []string{"failure", "failure"}, true},
		{"any failure", ConditionalJob{Operation: AnyFailure}, []string{"success", "failure"}, true},
		{"n success default target", ConditionalJob{Operation: NSuccess}, []string{"failure", "success"}, true},
		{"n success target not met", ConditionalJob{Operation: NSuccess, TargetCount: &three}, []string{"success", "success"}, false},
		{"n failure target met", ConditionalJob{Operation: NFailure, TargetCount: &three}, []string{"failure", "failure", "failure"}, true},
		{"expression", ConditionalJob{Operation: Expression, Expr: "successes == 2 && total == 3"}, []string{"success", "failure", "success"}, true},
		{"expression over statuses", ConditionalJob{Operation: Expression, Expr: `statuses[0] === "failure"`}, []string{"success"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.job.evaluate(context.Background(), tt.statuses, make([]any, len(tt.statuses)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditional_ExpressionSeesOutputs(t *testing.T) {
	j := ConditionalJob{Operation: Expression, Expr: `outputs[0].counts.error > 0`}
	outputs := []any{map[string]any{"status": "success", "counts": map[string]any{"error": 2}}}
	got, err := j.evaluate(context.Background(), []string{"success"}, outputs)
	require.NoError(t, err)
	assert.True(t, got)
}

func TestConditional_ExpressionError(t *testing.T) {
	j := ConditionalJob{Operation: Expression, Expr: `this is not javascript`}
	_, err := j.evaluate(context.Background(), []string{"success"}, []any{nil})
	require.Error(t, err)
}

func TestConditional_FactoryValidation(t *testing.T) {
	sys, _ := newSystem(t)

	_, err := sys.CreateJob(TypeConditional, json.RawMessage(`{"logicalOperation":"SOMETIMES"}`))
	require.ErrorIs(t, err, jobsystem.ErrInvalidInput)

	_, err = sys.CreateJob(TypeConditional, json.RawMessage(`{"logicalOperation":"EXPRESSION"}`))
	require.ErrorIs(t, err, jobsystem.ErrInvalidInput)

	job, err := sys.CreateJob(TypeConditional, json.RawMessage(`{"logicalOperation":"any_failure"}`))
	require.NoError(t, err)
	assert.Equal(t, AnyFailure, job.(*ConditionalJob).Operation)
}

func TestConditional_SpawnsBranch(t *testing.T) {
	sys, _ := newSystem(t)

	ok := submit(t, sys, "STATIC", `{"output":{"status":"success"}}`)
	failed := submit(t, sys, "STATIC", `{"output":{"status":"failure"}}`)
	silent := submit(t, sys, "STATIC", `{"output":{"note":"no status field"}}`)

	branches := `"ifTrue":{"type":"STATIC","input":{"output":{"branch":"yes"}}},` +
		`"else":{"type":"STATIC","input":{"output":{"branch":"no"}}}`
	anyFail := submit(t, sys, TypeConditional, fmt.Sprintf(`{"logicalOperation":"ANY_FAILURE",%s}`, branches), ok, silent)
	allOK := submit(t, sys, TypeConditional, fmt.Sprintf(`{"logicalOperation":"ALL_SUCCESS",%s}`, branches), ok, failed)
	drain(t, sys)

	var out ConditionalOutput
	outputOf(t, sys, anyFail, &out)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Condition, "a missing status counts as failure")
	require.NotNil(t, out.SpawnedJobID)
	var branch map[string]string
	outputOf(t, sys, *out.SpawnedJobID, &branch)
	assert.Equal(t, "yes", branch["branch"])

	outputOf(t, sys, allOK, &out)
	assert.False(t, out.Condition)
	require.NotNil(t, out.SpawnedJobID)
	outputOf(t, sys, *out.SpawnedJobID, &branch)
	assert.Equal(t, "no", branch["branch"])
}

func TestConditional_NoBranchAndNoDependencies(t *testing.T) {
	sys, _ := newSystem(t)

	src := submit(t, sys, "STATIC", `{"output":{"status":"success"}}`)
	quiet := submit(t, sys, TypeConditional, `{}`, src)
	orphan := submit(t, sys, TypeConditional, `{}`)
	drain(t, sys)

	var out ConditionalOutput
	outputOf(t, sys, quiet, &out)
	assert.Equal(t, StatusSuccess, out.Status)
	assert.True(t, out.Condition)
	assert.Nil(t, out.SpawnedJobID)

	outputOf(t, sys, orphan, &out)
	assert.Equal(t, StatusFailure, out.Status)
}

func TestConditional_UnknownBranchTypeFails(t *testing.T) {
	sys, _ := newSystem(t)

	src := submit(t, sys, "STATIC", `{"output":{"status":"success"}}`)
	id := submit(t, sys, TypeConditional, `{"ifTrue":{"type":"NOPE"}}`, src)
	drain(t, sys)

	var out ConditionalOutput
	outputOf(t, sys, id, &out)
	assert.Equal(t, StatusFailure, out.Status)
	assert.True(t, out.Condition)
	assert.Contains(t, out.Error, "not registered")
	assert.Equal(t, model.JobStatusCompleted, sys.Status(id))
}
