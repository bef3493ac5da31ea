package plan

import (
	"context"
	"fmt"

	"github.com/entrhq/pilot/pkg/logging"
	"github.com/samber/lo"
)

// Runner performs the primitive operations of a plan. *session.Executor
// satisfies it, so steps get the same connection-aware retry as any request.
type Runner interface {
	EnsureReady(ctx context.Context) error
	RunInstruction(ctx context.Context, instruction string) (any, error)
	Assert(ctx context.Context, assertion string) error
}

// StepResult records what happened to one step.
type StepResult struct {
	Index     int    `json:"index"`
	Step      Step   `json:"step"`
	Succeeded bool   `json:"succeeded"`
	Executed  bool   `json:"executed"`
	Verified  bool   `json:"verified"`
	Output    any    `json:"output,omitempty"`
	Error     string `json:"errorMessage,omitempty"`
}

// Result aggregates a plan run. Steps are in execution order.
type Result struct {
	Total        int          `json:"total"`
	Executed     int          `json:"executed"`
	Succeeded    int          `json:"succeeded"`
	VerifyFailed int          `json:"verifyFailed"`
	Failed       int          `json:"failed"`
	Aborted      int          `json:"aborted"`
	Steps        []StepResult `json:"steps"`
}

// StepError reports the action failure that aborted a plan.
type StepError struct {
	Index int
	Step  Step
	Err   error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("plan aborted at step %d (%q): %v", e.Index+1, e.Step.Action, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// ProgressFunc is called after every step with the step's result and the
// totals so far.
type ProgressFunc func(step StepResult, sofar Result)

// Executor plans a prompt and runs the steps.
type Executor struct {
	planner Planner
	runner  Runner
	logger  *logging.Logger
}

// NewExecutor creates a plan executor.
func NewExecutor(planner Planner, runner Runner, logger *logging.Logger) *Executor {
	return &Executor{planner: planner, runner: runner, logger: logger}
}

// Run plans prompt and executes the steps in order.
//
// An action failure aborts the plan: the result is returned together with a
// *StepError and the remaining steps are counted as aborted. A verification
// failure only marks the step unverified and execution continues. Planner
// output that does not validate yields a *PlanParseError and no step runs.
func (e *Executor) Run(ctx context.Context, prompt string, progress ProgressFunc) (*Result, error) {
	text, err := e.planner.Plan(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("planning failed: %w", err)
	}

	steps, err := ExtractSteps(text)
	if err != nil {
		e.logger.Warnf("rejected plan: %v", err)
		return nil, err
	}
	e.logger.Infof("running plan with %d step(s)", len(steps))

	if err := e.runner.EnsureReady(ctx); err != nil {
		return nil, err
	}

	result := &Result{Total: len(steps)}
	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			result.tally()
			return result, &StepError{Index: i, Step: step, Err: err}
		}

		sr := StepResult{Index: i, Step: step}
		output, err := e.runner.RunInstruction(ctx, step.Action)
		if err != nil {
			sr.Error = err.Error()
			result.Steps = append(result.Steps, sr)
			result.tally()
			e.notify(progress, sr, result)
			e.logger.Warnf("plan step %d action failed, aborting: %v", i+1, err)
			return result, &StepError{Index: i, Step: step, Err: err}
		}
		sr.Executed = true
		sr.Output = output

		if err := e.runner.Assert(ctx, step.Verify); err != nil {
			sr.Error = err.Error()
			e.logger.Warnf("plan step %d verification failed: %v", i+1, err)
		} else {
			sr.Verified = true
			sr.Succeeded = true
		}

		result.Steps = append(result.Steps, sr)
		result.tally()
		e.notify(progress, sr, result)
	}

	return result, nil
}

func (e *Executor) notify(progress ProgressFunc, sr StepResult, result *Result) {
	if progress == nil {
		return
	}
	snapshot := *result
	snapshot.Steps = append([]StepResult(nil), result.Steps...)
	progress(sr, snapshot)
}

// tally recomputes the counters from Steps.
func (r *Result) tally() {
	r.Executed = lo.CountBy(r.Steps, func(s StepResult) bool { return s.Executed })
	r.Succeeded = lo.CountBy(r.Steps, func(s StepResult) bool { return s.Succeeded })
	r.VerifyFailed = lo.CountBy(r.Steps, func(s StepResult) bool { return s.Executed && !s.Verified })
	r.Failed = lo.CountBy(r.Steps, func(s StepResult) bool { return !s.Executed })
	r.Aborted = r.Total - len(r.Steps)
}
