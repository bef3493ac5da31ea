package plan

import (
	"context"
	"fmt"

	"github.com/entrhq/pilot/pkg/llm"
	"github.com/entrhq/pilot/pkg/types"
)

const plannerPrompt = `You plan browser automation tasks.

Break the user's request into small steps that a browser agent can perform one at a time.
Each step has:
- "action": one concrete instruction for the browser agent, e.g. "click the Sign in button"
- "verify": one observable statement that is true after the action, e.g. "the login form is visible"

Respond with a JSON array only, for example:
[{"action": "open https://example.com", "verify": "the page title contains Example"}]`

// Planner turns a prompt into planner text that contains a JSON array of steps.
type Planner interface {
	Plan(ctx context.Context, prompt string) (string, error)
}

// PlannerFunc adapts a function to the Planner interface.
type PlannerFunc func(ctx context.Context, prompt string) (string, error)

// Plan calls f(ctx, prompt).
func (f PlannerFunc) Plan(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// LLMPlanner asks an LLM provider for a plan and collects its streamed reply.
type LLMPlanner struct {
	provider llm.Provider
}

// NewLLMPlanner creates a planner backed by provider.
func NewLLMPlanner(provider llm.Provider) *LLMPlanner {
	return &LLMPlanner{provider: provider}
}

// Plan streams the completion and returns the concatenated text.
func (p *LLMPlanner) Plan(ctx context.Context, prompt string) (string, error) {
	messages := []*types.Message{
		types.NewSystemMessage(plannerPrompt),
		types.NewUserMessage(prompt),
	}

	stream, err := p.provider.StreamCompletion(ctx, messages)
	if err != nil {
		return "", fmt.Errorf("failed to start planner stream: %w", err)
	}

	text, err := llm.Collect(ctx, stream)
	if err != nil {
		return "", fmt.Errorf("planner stream failed: %w", err)
	}
	return text, nil
}
