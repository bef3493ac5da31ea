package plan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Step is one planned action and the assertion that confirms it.
type Step struct {
	Action string `json:"action"`
	Verify string `json:"verify"`
}

// PlanParseError reports planner output that does not hold a valid plan.
// Raw keeps the full planner text for diagnostics.
type PlanParseError struct {
	Raw    string
	Reason string
}

func (e *PlanParseError) Error() string {
	return "invalid plan: " + e.Reason
}

// ExtractSteps finds the first syntactically valid JSON array in text and
// validates every element. A single malformed step rejects the whole plan.
func ExtractSteps(text string) ([]Step, error) {
	raw, ok := firstJSONArray(text)
	if !ok {
		reason := "no JSON array found in planner output"
		if trimmed := strings.TrimSpace(text); gjson.Valid(trimmed) {
			reason = "planner output is not a JSON array"
		}
		return nil, &PlanParseError{Raw: text, Reason: reason}
	}

	elems := gjson.Parse(raw).Array()
	if len(elems) == 0 {
		return nil, &PlanParseError{Raw: text, Reason: "plan has no steps"}
	}
	for i, el := range elems {
		if !el.IsObject() {
			return nil, &PlanParseError{Raw: text, Reason: fmt.Sprintf("step %d is not an object", i+1)}
		}
		for _, field := range []string{"action", "verify"} {
			v := el.Get(field)
			if v.Type != gjson.String || strings.TrimSpace(v.String()) == "" {
				return nil, &PlanParseError{Raw: text, Reason: fmt.Sprintf("step %d: %q must be a non-empty string", i+1, field)}
			}
		}
	}

	var steps []Step
	if err := json.Unmarshal([]byte(raw), &steps); err != nil {
		return nil, &PlanParseError{Raw: text, Reason: err.Error()}
	}
	return steps, nil
}

// firstJSONArray returns the first balanced "[...]" substring that is valid JSON.
func firstJSONArray(text string) (string, bool) {
	for start := strings.IndexByte(text, '['); start >= 0; {
		if end, ok := matchBracket(text, start); ok {
			candidate := text[start : end+1]
			if gjson.Valid(candidate) {
				return candidate, true
			}
		}
		next := strings.IndexByte(text[start+1:], '[')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

// matchBracket returns the index of the bracket closing the one at start,
// skipping brackets inside JSON strings.
func matchBracket(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '[':
			depth++
		case ']':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
