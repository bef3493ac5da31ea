package router

import (
	"context"
	"errors"
	"fmt"

	"github.com/entrhq/pilot/pkg/automation"
	"github.com/entrhq/pilot/pkg/plan"
	"github.com/entrhq/pilot/pkg/protocol"
	"github.com/entrhq/pilot/pkg/session"
)

// OptionAssert makes the ai action verify its params instead of acting on them.
const OptionAssert = "assert"

func (r *Router) registerBuiltins() {
	r.handlers[protocol.ActionConnectTab] = r.connectTab
	r.handlers[protocol.ActionCommand] = r.command
	r.handlers[protocol.ActionAI] = r.ai
	r.handlers[protocol.ActionAIScript] = r.aiScript
	r.handlers[protocol.ActionSiteScript] = r.siteScript
	r.handlers[protocol.ActionAIPlan] = r.aiPlan
	r.handlers[protocol.ActionListTabs] = r.listTabs
	r.handlers[protocol.ActionStatus] = r.status
}

// ConnectTabResult is returned by connectTab.
type ConnectTabResult struct {
	Connected bool             `json:"connected"`
	ActiveTab string           `json:"activeTab,omitempty"`
	Tabs      []automation.Tab `json:"tabs"`
}

func (r *Router) connectTab(ctx context.Context, call *Call) (any, error) {
	params, err := call.Request.Payload.ConnectTab()
	if err != nil {
		return nil, err
	}
	if err := r.deps.Executor.EnsureReady(ctx); err != nil {
		return nil, err
	}
	if params.TabID != "" {
		if err := r.deps.Executor.SetActiveTab(ctx, params.TabID); err != nil {
			return nil, err
		}
	}

	tabs, err := r.deps.Executor.ListTabs(ctx)
	if err != nil {
		return nil, err
	}
	result := ConnectTabResult{Connected: true, Tabs: tabs}
	for _, tab := range tabs {
		if tab.Active {
			result.ActiveTab = tab.ID
			break
		}
	}
	return result, nil
}

func (r *Router) command(ctx context.Context, call *Call) (any, error) {
	cmd, err := call.Request.Payload.Command()
	if err != nil {
		return nil, err
	}

	m := r.deps.Manager
	switch cmd {
	case protocol.CommandStart:
		err = m.Start(ctx)
	case protocol.CommandStop:
		err = m.Stop(ctx)
	case protocol.CommandReconnect:
		err = m.ForceReconnect(ctx)
	}
	if err != nil {
		return nil, err
	}
	return m.Status(), nil
}

func (r *Router) ai(ctx context.Context, call *Call) (any, error) {
	instruction, err := call.Request.Payload.StringParam()
	if err != nil {
		return nil, err
	}

	if call.Request.Payload.Option == OptionAssert {
		if err := r.deps.Executor.Assert(ctx, instruction); err != nil {
			return nil, err
		}
		return map[string]any{"passed": true}, nil
	}
	return r.deps.Executor.RunInstruction(ctx, instruction)
}

func (r *Router) aiScript(ctx context.Context, call *Call) (any, error) {
	script, err := automation.DecodeScript(call.Request.Payload.Params)
	if err != nil {
		return nil, err
	}
	return r.deps.Executor.RunScriptWithFallback(ctx, script, call.Request.Payload.OriginalCmd)
}

func (r *Router) siteScript(ctx context.Context, call *Call) (any, error) {
	params, err := call.Request.Payload.SiteScript()
	if err != nil {
		return nil, err
	}
	if r.deps.Scripts == nil {
		return nil, errors.New("site scripts are not configured")
	}

	js, err := r.deps.Scripts.Render(call.Request.Payload.Site, params.Key, params.Value)
	if err != nil {
		return nil, err
	}
	return r.deps.Executor.EvaluateWithFallback(ctx, js, call.Request.Payload.OriginalCmd)
}

// PlanProgress is sent as an intermediate response after every plan step.
type PlanProgress struct {
	Step      plan.StepResult `json:"step"`
	Total     int             `json:"total"`
	Completed int             `json:"completed"`
}

func (r *Router) aiPlan(ctx context.Context, call *Call) (any, error) {
	prompt, err := call.Request.Payload.StringParam()
	if err != nil {
		return nil, err
	}
	if r.deps.Plans == nil {
		return nil, errors.New("planner is not configured")
	}

	result, err := r.deps.Plans.Run(ctx, prompt, func(step plan.StepResult, sofar plan.Result) {
		progress := PlanProgress{Step: step, Total: sofar.Total, Completed: len(sofar.Steps)}
		if err := call.Progress(progress); err != nil {
			r.logger.Warnf("failed to send plan progress: %v", err)
		}
	})
	if err != nil {
		var stepErr *plan.StepError
		if errors.As(err, &stepErr) && result != nil {
			return nil, fmt.Errorf("%w (executed %d of %d steps, %d aborted)", err, result.Executed, result.Total, result.Aborted)
		}
		return nil, err
	}
	return result, nil
}

func (r *Router) listTabs(ctx context.Context, _ *Call) (any, error) {
	return r.deps.Executor.ListTabs(ctx)
}

func (r *Router) status(_ context.Context, _ *Call) (any, error) {
	return r.deps.Manager.Status(), nil
}

var _ plan.Runner = (*session.Executor)(nil)
