package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/entrhq/pilot/pkg/llm"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockRunner is a mock implementation of Runner for testing
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) EnsureReady(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockRunner) RunInstruction(ctx context.Context, instruction string) (any, error) {
	args := m.Called(ctx, instruction)
	return args.Get(0), args.Error(1)
}

func (m *MockRunner) Assert(ctx context.Context, assertion string) error {
	args := m.Called(ctx, assertion)
	return args.Error(0)
}

// MockLLMProvider is a mock implementation of llm.Provider for testing
type MockLLMProvider struct {
	mock.Mock
}

func (m *MockLLMProvider) StreamCompletion(ctx context.Context, messages []*types.Message) (<-chan *llm.StreamChunk, error) {
	args := m.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(<-chan *llm.StreamChunk), args.Error(1)
}

func (m *MockLLMProvider) Complete(ctx context.Context, messages []*types.Message) (*types.Message, error) {
	args := m.Called(ctx, messages)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.Message), args.Error(1)
}

func (m *MockLLMProvider) GetModelInfo() *types.ModelInfo {
	return &types.ModelInfo{Name: "mock"}
}

func (m *MockLLMProvider) GetModel() string {
	return "mock"
}

func chunks(parts ...*llm.StreamChunk) <-chan *llm.StreamChunk {
	ch := make(chan *llm.StreamChunk, len(parts))
	for _, p := range parts {
		ch <- p
	}
	close(ch)
	return ch
}

func staticPlanner(text string) Planner {
	return PlannerFunc(func(context.Context, string) (string, error) { return text, nil })
}

const threeSteps = `Here is the plan:
[
  {"action": "open the login page", "verify": "a login form is visible"},
  {"action": "type the username", "verify": "the username field is filled"},
  {"action": "press sign in", "verify": "the dashboard is shown"}
]
Good luck!`

func TestExtractSteps(t *testing.T) {
	steps, err := ExtractSteps(threeSteps)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, Step{Action: "open the login page", Verify: "a login form is visible"}, steps[0])
	assert.Equal(t, "press sign in", steps[2].Action)
}

func TestExtractStepsSkipsInvalidBrackets(t *testing.T) {
	text := `Note [draft: see below] then ` + "```json\n" + `[{"action":"click \"[OK]\"","verify":"dialog closed"}]` + "\n```"
	steps, err := ExtractSteps(text)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, `click "[OK]"`, steps[0].Action)
}

func TestExtractStepsRejects(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		reason string
	}{
		{name: "not json", text: "blah [not json", reason: "no JSON array"},
		{name: "no array", text: "I cannot help with that.", reason: "no JSON array"},
		{name: "object", text: `{"action":"a","verify":"b"}`, reason: "not a JSON array"},
		{name: "empty", text: `[]`, reason: "no steps"},
		{name: "scalar element", text: `["open the page"]`, reason: "step 1 is not an object"},
		{name: "missing verify", text: `[{"action":"a","verify":"b"},{"action":"c"}]`, reason: `step 2: "verify"`},
		{name: "numeric action", text: `[{"action":1,"verify":"b"}]`, reason: `step 1: "action"`},
		{name: "blank action", text: `[{"action":"  ","verify":"b"}]`, reason: `step 1: "action"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps, err := ExtractSteps(tt.text)
			assert.Nil(t, steps)

			var perr *PlanParseError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, perr.Reason, tt.reason)
			assert.Equal(t, tt.text, perr.Raw)
		})
	}
}

func TestRunRejectsInvalidPlanWithoutRunningSteps(t *testing.T) {
	runner := new(MockRunner)
	exec := NewExecutor(staticPlanner("blah [not json"), runner, logging.Nop())

	result, err := exec.Run(context.Background(), "log in", nil)
	assert.Nil(t, result)

	var perr *PlanParseError
	require.ErrorAs(t, err, &perr)
	runner.AssertNotCalled(t, "EnsureReady", mock.Anything)
	runner.AssertNotCalled(t, "RunInstruction", mock.Anything, mock.Anything)
}

func TestRunAllStepsSucceed(t *testing.T) {
	runner := new(MockRunner)
	runner.On("EnsureReady", mock.Anything).Return(nil)
	runner.On("RunInstruction", mock.Anything, mock.Anything).Return("ok", nil)
	runner.On("Assert", mock.Anything, mock.Anything).Return(nil)

	var progress []StepResult
	exec := NewExecutor(staticPlanner(threeSteps), runner, logging.Nop())
	result, err := exec.Run(context.Background(), "log in", func(sr StepResult, _ Result) {
		progress = append(progress, sr)
	})
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Executed)
	assert.Equal(t, 3, result.Succeeded)
	assert.Equal(t, 0, result.VerifyFailed)
	assert.Equal(t, 0, result.Aborted)
	require.Len(t, progress, 3)
	assert.Equal(t, []int{0, 1, 2}, []int{progress[0].Index, progress[1].Index, progress[2].Index})
	runner.AssertNumberOfCalls(t, "Assert", 3)
}

func TestRunVerifyFailureIsNotFatal(t *testing.T) {
	runner := new(MockRunner)
	runner.On("EnsureReady", mock.Anything).Return(nil)
	runner.On("RunInstruction", mock.Anything, mock.Anything).Return("ok", nil)
	runner.On("Assert", mock.Anything, "a login form is visible").Return(nil)
	runner.On("Assert", mock.Anything, "the username field is filled").Return(errors.New("assertion failed: field is empty"))
	runner.On("Assert", mock.Anything, "the dashboard is shown").Return(nil)

	exec := NewExecutor(staticPlanner(threeSteps), runner, logging.Nop())
	result, err := exec.Run(context.Background(), "log in", nil)
	require.NoError(t, err)

	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 3, result.Executed)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 1, result.VerifyFailed)
	assert.Equal(t, 0, result.Aborted)

	require.Len(t, result.Steps, 3)
	assert.True(t, result.Steps[1].Executed)
	assert.False(t, result.Steps[1].Verified)
	assert.Contains(t, result.Steps[1].Error, "field is empty")
	assert.True(t, result.Steps[2].Succeeded, "step after a failed verification still runs")
	runner.AssertCalled(t, "RunInstruction", mock.Anything, "press sign in")
}

func TestRunActionFailureAborts(t *testing.T) {
	runner := new(MockRunner)
	runner.On("EnsureReady", mock.Anything).Return(nil)
	runner.On("RunInstruction", mock.Anything, "open the login page").Return("ok", nil)
	runner.On("RunInstruction", mock.Anything, "type the username").Return(nil, errors.New("element not found"))
	runner.On("Assert", mock.Anything, mock.Anything).Return(nil)

	var last Result
	exec := NewExecutor(staticPlanner(threeSteps), runner, logging.Nop())
	result, err := exec.Run(context.Background(), "log in", func(_ StepResult, sofar Result) {
		last = sofar
	})
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, 1, stepErr.Index)
	assert.Contains(t, err.Error(), "step 2")
	assert.Contains(t, err.Error(), "element not found")

	require.NotNil(t, result)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Executed)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, result.Aborted)
	assert.Len(t, result.Steps, 2)
	assert.Equal(t, *result, last)

	runner.AssertNotCalled(t, "RunInstruction", mock.Anything, "press sign in")
	runner.AssertNumberOfCalls(t, "Assert", 1)
}

func TestRunFailsWhenSessionUnavailable(t *testing.T) {
	runner := new(MockRunner)
	runner.On("EnsureReady", mock.Anything).Return(errors.New("automation service unavailable"))

	exec := NewExecutor(staticPlanner(threeSteps), runner, logging.Nop())
	result, err := exec.Run(context.Background(), "log in", nil)
	assert.Nil(t, result)
	assert.ErrorContains(t, err, "unavailable")
	runner.AssertNotCalled(t, "RunInstruction", mock.Anything, mock.Anything)
}

func TestRunPlannerError(t *testing.T) {
	planner := PlannerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("rate limited")
	})
	exec := NewExecutor(planner, new(MockRunner), nil)

	_, err := exec.Run(context.Background(), "log in", nil)
	assert.ErrorContains(t, err, "planning failed: rate limited")
}

func TestLLMPlannerCollectsStream(t *testing.T) {
	provider := new(MockLLMProvider)
	provider.On("StreamCompletion", mock.Anything, mock.MatchedBy(func(msgs []*types.Message) bool {
		return len(msgs) == 2 && msgs[0].Role == types.RoleSystem && msgs[1].Content == "buy milk"
	})).Return(chunks(
		&llm.StreamChunk{Content: `[{"action":"open the shop",`},
		&llm.StreamChunk{Content: `"verify":"shop is open"}]`},
		&llm.StreamChunk{Finished: true},
	), nil)

	text, err := NewLLMPlanner(provider).Plan(context.Background(), "buy milk")
	require.NoError(t, err)

	steps, err := ExtractSteps(text)
	require.NoError(t, err)
	assert.Equal(t, []Step{{Action: "open the shop", Verify: "shop is open"}}, steps)
	provider.AssertExpectations(t)
}

func TestLLMPlannerErrors(t *testing.T) {
	provider := new(MockLLMProvider)
	provider.On("StreamCompletion", mock.Anything, mock.Anything).Return(nil, errors.New("no key")).Once()
	_, err := NewLLMPlanner(provider).Plan(context.Background(), "x")
	assert.ErrorContains(t, err, "failed to start planner stream")

	provider.On("StreamCompletion", mock.Anything, mock.Anything).Return(chunks(
		&llm.StreamChunk{Content: "[{"},
		&llm.StreamChunk{Error: errors.New("stream reset")},
	), nil).Once()
	_, err = NewLLMPlanner(provider).Plan(context.Background(), "x")
	assert.ErrorContains(t, err, "stream reset")
}
