package automation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flow item keys understood by script runners.
const (
	FlowAIAction   = "aiAction"
	FlowAI         = "ai" // shorthand for aiAction
	FlowAIAssert   = "aiAssert"
	FlowSleep      = "sleep" // milliseconds
	FlowJavaScript = "javascript"
)

var flowKeys = map[string]bool{
	FlowAIAction:   true,
	FlowAI:         true,
	FlowAIAssert:   true,
	FlowSleep:      true,
	FlowJavaScript: true,
}

// Script is an ordered list of tasks, each an ordered flow of steps.
//
//	tasks:
//	  - name: search
//	    flow:
//	      - aiAction: type "go" into the search box and press enter
//	      - sleep: 500
//	      - aiAssert: results are listed
type Script struct {
	Tasks []Task `json:"tasks" yaml:"tasks"`
}

// Task is a named flow.
type Task struct {
	Name            string     `json:"name" yaml:"name"`
	Flow            []FlowItem `json:"flow" yaml:"flow"`
	ContinueOnError bool       `json:"continueOnError,omitempty" yaml:"continueOnError,omitempty"`
}

// FlowItem is one step of a task, keyed by its kind.
type FlowItem map[string]any

// Kind returns the step kind and its argument.
func (f FlowItem) Kind() (string, any, error) {
	var found []string
	for key := range f {
		if flowKeys[key] {
			found = append(found, key)
		}
	}

	switch len(found) {
	case 0:
		keys := make([]string, 0, len(f))
		for key := range f {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		return "", nil, fmt.Errorf("flow item has no known step kind (keys: %s)", strings.Join(keys, ", "))
	case 1:
		return found[0], f[found[0]], nil
	default:
		sort.Strings(found)
		return "", nil, fmt.Errorf("flow item has more than one step kind: %s", strings.Join(found, ", "))
	}
}

// Validate checks that every task has a flow and every flow item a single known kind.
func (s *Script) Validate() error {
	if s == nil || len(s.Tasks) == 0 {
		return fmt.Errorf("script has no tasks")
	}
	for i, task := range s.Tasks {
		if len(task.Flow) == 0 {
			return fmt.Errorf("task %d (%q) has an empty flow", i, task.Name)
		}
		for j, item := range task.Flow {
			if _, _, err := item.Kind(); err != nil {
				return fmt.Errorf("task %d (%q) step %d: %w", i, task.Name, j, err)
			}
		}
	}
	return nil
}

// YAML renders the script in its YAML form.
func (s *Script) YAML() (string, error) {
	out, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to encode script: %w", err)
	}
	return string(out), nil
}

// DecodeScript accepts a script as a JSON object with a tasks field, a JSON
// array of tasks, or a JSON string holding the same in YAML.
func DecodeScript(raw json.RawMessage) (*Script, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, fmt.Errorf("script is empty")
	}

	var script Script
	switch trimmed[0] {
	case '{':
		if err := json.Unmarshal(trimmed, &script); err != nil {
			return nil, fmt.Errorf("invalid script object: %w", err)
		}
	case '[':
		if err := json.Unmarshal(trimmed, &script.Tasks); err != nil {
			return nil, fmt.Errorf("invalid task list: %w", err)
		}
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return nil, fmt.Errorf("invalid script string: %w", err)
		}
		parsed, err := ParseYAMLScript(text)
		if err != nil {
			return nil, err
		}
		script = *parsed
	default:
		return nil, fmt.Errorf("unsupported script encoding")
	}

	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

// ParseYAMLScript parses and validates a YAML document holding either a
// tasks mapping or a bare task list.
func ParseYAMLScript(text string) (*Script, error) {
	var node yaml.Node
	if err := yaml.Unmarshal([]byte(text), &node); err != nil {
		return nil, fmt.Errorf("invalid script yaml: %w", err)
	}
	if len(node.Content) == 0 {
		return nil, fmt.Errorf("script is empty")
	}

	var script Script
	switch node.Content[0].Kind {
	case yaml.MappingNode:
		if err := node.Content[0].Decode(&script); err != nil {
			return nil, fmt.Errorf("invalid script yaml: %w", err)
		}
	case yaml.SequenceNode:
		if err := node.Content[0].Decode(&script.Tasks); err != nil {
			return nil, fmt.Errorf("invalid task list yaml: %w", err)
		}
	default:
		return nil, fmt.Errorf("script yaml must be a mapping or a list of tasks")
	}
	if err := script.Validate(); err != nil {
		return nil, err
	}
	return &script, nil
}

// ScriptResult reports the outcome of every task that ran.
type ScriptResult struct {
	Tasks     []TaskResult `json:"tasks"`
	Succeeded bool         `json:"succeeded"`
}

// TaskResult reports one task.
type TaskResult struct {
	Name      string `json:"name"`
	Succeeded bool   `json:"succeeded"`
	Outputs   []any  `json:"outputs,omitempty"`
	Error     string `json:"error,omitempty"`
}
