package browser

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/entrhq/pilot/pkg/automation"
)

// stepRunner executes single flow steps. Handle implements it against a page.
type stepRunner interface {
	act(ctx context.Context, instruction string) (any, error)
	assert(ctx context.Context, assertion string) error
	evaluate(ctx context.Context, code string) (any, error)
	sleep(ctx context.Context, d time.Duration) error
}

// runScript executes tasks in order. A failing step ends its task; the script
// stops at the first failed task unless that task has ContinueOnError set.
// Tasks skipped over with ContinueOnError still fail the script once the
// remaining tasks have run. The returned error wraps the step errors so
// callers can classify them.
func runScript(ctx context.Context, r stepRunner, script *automation.Script) (*automation.ScriptResult, error) {
	if err := script.Validate(); err != nil {
		return nil, err
	}

	result := &automation.ScriptResult{Succeeded: true}
	var failures []error
	for _, task := range script.Tasks {
		taskResult, err := runTask(ctx, r, task)
		result.Tasks = append(result.Tasks, taskResult)
		if err == nil {
			continue
		}

		result.Succeeded = false
		if task.ContinueOnError && ctx.Err() == nil {
			failures = append(failures, err)
			continue
		}
		return result, err
	}

	if len(failures) > 0 {
		return result, fmt.Errorf("%d of %d tasks failed: %w", len(failures), len(script.Tasks), errors.Join(failures...))
	}
	return result, nil
}

func runTask(ctx context.Context, r stepRunner, task automation.Task) (automation.TaskResult, error) {
	res := automation.TaskResult{Name: task.Name}

	for i, item := range task.Flow {
		if err := ctx.Err(); err != nil {
			res.Error = err.Error()
			return res, err
		}

		kind, arg, err := item.Kind()
		if err == nil {
			var output any
			output, err = runStep(ctx, r, kind, arg)
			if err == nil && output != nil {
				res.Outputs = append(res.Outputs, output)
			}
		}
		if err != nil {
			err = fmt.Errorf("task %q step %d (%s): %w", task.Name, i+1, kind, err)
			res.Error = err.Error()
			return res, err
		}
	}

	res.Succeeded = true
	return res, nil
}

func runStep(ctx context.Context, r stepRunner, kind string, arg any) (any, error) {
	switch kind {
	case automation.FlowAIAction, automation.FlowAI:
		text, err := stringArg(kind, arg)
		if err != nil {
			return nil, err
		}
		return r.act(ctx, text)
	case automation.FlowAIAssert:
		text, err := stringArg(kind, arg)
		if err != nil {
			return nil, err
		}
		return nil, r.assert(ctx, text)
	case automation.FlowJavaScript:
		code, err := stringArg(kind, arg)
		if err != nil {
			return nil, err
		}
		return r.evaluate(ctx, code)
	case automation.FlowSleep:
		d, err := sleepArg(arg)
		if err != nil {
			return nil, err
		}
		return nil, r.sleep(ctx, d)
	}
	return nil, fmt.Errorf("unsupported step kind %q", kind)
}

func stringArg(kind string, arg any) (string, error) {
	text, ok := arg.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%s requires a non-empty string", kind)
	}
	return text, nil
}

// sleepArg accepts milliseconds as a number or numeric string, or a Go duration string.
func sleepArg(arg any) (time.Duration, error) {
	var ms float64
	switch v := arg.(type) {
	case int:
		ms = float64(v)
	case int64:
		ms = float64(v)
	case uint64:
		ms = float64(v)
	case float64:
		ms = v
	case string:
		if n, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			ms = n
			break
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("invalid sleep duration %q", v)
		}
		ms = float64(d) / float64(time.Millisecond)
	default:
		return 0, fmt.Errorf("invalid sleep duration %v", arg)
	}

	if ms < 0 {
		return 0, fmt.Errorf("sleep duration cannot be negative")
	}
	return time.Duration(ms * float64(time.Millisecond)), nil
}
