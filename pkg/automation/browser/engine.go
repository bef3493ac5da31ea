package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/entrhq/pilot/pkg/automation"
	"github.com/entrhq/pilot/pkg/llm"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/entrhq/pilot/pkg/types"
)

// Page is the part of a browser page the engine needs.
// playwright.Page satisfies it.
type Page interface {
	URL() string
	Title() (string, error)
	Content() (string, error)
	Evaluate(expression string, arg ...interface{}) (interface{}, error)
}

// Engine turns natural-language instructions and assertions into page actions.
type Engine interface {
	Act(ctx context.Context, page Page, instruction string) (any, error)
	Assert(ctx context.Context, page Page, assertion string) error
}

const (
	defaultMaxElements = 150
	defaultMaxSnapshot = 24000
)

const actSystemPrompt = `You operate a web page by writing JavaScript that runs inside it.
You receive a snapshot of the page and an instruction.
Reply with exactly one fenced javascript block containing an async arrow function:

` + "```javascript" + `
async () => {
  // act on the DOM here
  return "short summary of what was done";
}
` + "```" + `

Rules:
- Use the selectors from the snapshot when possible.
- To type, set the element value and dispatch "input" and "change" events.
- Return a short JSON-serializable summary.
- Throw an Error with a clear message when the instruction cannot be carried out.`

const assertSystemPrompt = `You verify statements about a web page by writing JavaScript that runs inside it.
You receive a snapshot of the page and an assertion.
Reply with exactly one fenced javascript block containing an async arrow function
that returns {"pass": boolean, "reason": string}.
Never modify the page.`

// LLMEngine asks an LLM for a page script and evaluates it.
type LLMEngine struct {
	provider    llm.Provider
	logger      *logging.Logger
	maxElements int
	maxSnapshot int
}

// EngineOption configures an LLMEngine.
type EngineOption func(*LLMEngine)

// WithEngineLogger sets the engine logger.
func WithEngineLogger(logger *logging.Logger) EngineOption {
	return func(e *LLMEngine) {
		e.logger = logger
	}
}

// WithSnapshotLimits caps the number of elements and bytes sent to the model.
func WithSnapshotLimits(maxElements, maxBytes int) EngineOption {
	return func(e *LLMEngine) {
		if maxElements > 0 {
			e.maxElements = maxElements
		}
		if maxBytes > 0 {
			e.maxSnapshot = maxBytes
		}
	}
}

// NewLLMEngine creates an engine backed by provider.
func NewLLMEngine(provider llm.Provider, opts ...EngineOption) *LLMEngine {
	e := &LLMEngine{
		provider:    provider,
		maxElements: defaultMaxElements,
		maxSnapshot: defaultMaxSnapshot,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Act performs instruction on page and returns the script's result.
func (e *LLMEngine) Act(ctx context.Context, page Page, instruction string) (any, error) {
	code, err := e.generate(ctx, page, actSystemPrompt, "Instruction: "+instruction)
	if err != nil {
		return nil, err
	}

	e.logger.Debugf("evaluating instruction script (%d bytes) for %q", len(code), instruction)
	result, err := page.Evaluate(code)
	if err != nil {
		return nil, fmt.Errorf("instruction script failed: %w", err)
	}
	return result, nil
}

// Assert evaluates assertion on page. A false outcome wraps automation.ErrAssertionFailed.
func (e *LLMEngine) Assert(ctx context.Context, page Page, assertion string) error {
	code, err := e.generate(ctx, page, assertSystemPrompt, "Assertion: "+assertion)
	if err != nil {
		return err
	}

	result, err := page.Evaluate(code)
	if err != nil {
		return fmt.Errorf("assertion script failed: %w", err)
	}

	pass, reason := interpretAssertion(result)
	if !pass {
		if reason == "" {
			return fmt.Errorf("%w: %s", automation.ErrAssertionFailed, assertion)
		}
		return fmt.Errorf("%w: %s (%s)", automation.ErrAssertionFailed, assertion, reason)
	}
	return nil
}

func (e *LLMEngine) generate(ctx context.Context, page Page, system, request string) (string, error) {
	if e.provider == nil {
		return "", fmt.Errorf("LLM provider not available")
	}

	snapshot, err := e.snapshot(page)
	if err != nil {
		return "", err
	}

	resp, err := e.provider.Complete(ctx, []*types.Message{
		types.NewSystemMessage(system),
		types.NewUserMessage(snapshot + "\n" + request),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate page script: %w", err)
	}

	code := extractCode(resp.Content)
	if code == "" {
		return "", fmt.Errorf("model returned no script")
	}
	return code, nil
}

func (e *LLMEngine) snapshot(page Page) (string, error) {
	content, err := page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}

	snap, err := ParseSnapshot(content, e.maxElements)
	if err != nil {
		return "", err
	}
	return snap.Render(page.URL(), e.maxSnapshot), nil
}

var fenceRe = regexp.MustCompile("(?s)```(?:javascript|js)?[ \\t]*\\n(.*?)```")

// extractCode returns the first fenced block, or the whole reply when there is none,
// wrapped as a function expression when it is a bare statement list.
func extractCode(reply string) string {
	code := reply
	if m := fenceRe.FindStringSubmatch(reply); m != nil {
		code = m[1]
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return ""
	}
	if looksLikeFunction(code) {
		return code
	}
	return "async () => {\n" + code + "\n}"
}

func looksLikeFunction(code string) bool {
	for _, prefix := range []string{"async (", "async function", "function", "() =>", "(async"} {
		if strings.HasPrefix(code, prefix) {
			return true
		}
	}
	return false
}

// interpretAssertion accepts a boolean, a {pass, reason} object or a JSON string of either.
func interpretAssertion(result any) (bool, string) {
	switch v := result.(type) {
	case bool:
		return v, ""
	case map[string]interface{}:
		pass, _ := v["pass"].(bool)
		reason, _ := v["reason"].(string)
		return pass, reason
	case string:
		var decoded any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			if _, isString := decoded.(string); !isString {
				return interpretAssertion(decoded)
			}
		}
		return strings.EqualFold(strings.TrimSpace(v), "true"), ""
	}
	return false, fmt.Sprintf("unexpected assertion result %v", result)
}
