package protocol

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// ParseError reports a frame that is not a valid request envelope.
// MessageID is recovered from the frame when possible and synthesized otherwise.
type ParseError struct {
	MessageID      string
	ConversationID string
	Reason         string
}

func (e *ParseError) Error() string {
	return "parse_error: " + e.Reason
}

var (
	bareKeyRe       = regexp.MustCompile(`([{,]\s*)([A-Za-z_$][A-Za-z0-9_$]*)(\s*:)`)
	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	messageIDRe     = regexp.MustCompile(`["']?messageId["']?\s*:\s*["']([^"']+)["']`)
	conversationRe  = regexp.MustCompile(`["']?conversationId["']?\s*:\s*["']([^"']+)["']`)

	smartQuotes = strings.NewReplacer(
		"“", `"`, "”", `"`, "„", `"`, "«", `"`, "»", `"`,
		"‘", "'", "’", "'", "‚", "'",
	)
)

// Repair applies the lenient fixes for hand-written or LLM-produced JSON:
// it strips a BOM and surrounding whitespace, normalizes typographic quotes,
// turns single quotes into double quotes when no double quotes are present,
// quotes bare object keys and drops trailing commas.
func Repair(text string) string {
	text = strings.TrimPrefix(text, "\ufeff")
	text = strings.TrimSpace(text)
	text = smartQuotes.Replace(text)
	if !strings.Contains(text, `"`) {
		text = strings.ReplaceAll(text, "'", `"`)
	}
	return outsideStrings(text, func(seg string) string {
		seg = bareKeyRe.ReplaceAllString(seg, `$1"$2"$3`)
		return trailingCommaRe.ReplaceAllString(seg, "$1")
	})
}

// outsideStrings applies fix to every run of text between JSON string
// literals and copies the literals unchanged.
func outsideStrings(text string, fix func(string) string) string {
	var b strings.Builder
	b.Grow(len(text))
	start := 0
	for i := 0; i < len(text); i++ {
		if text[i] != '"' {
			continue
		}
		b.WriteString(fix(text[start:i]))
		end := stringEnd(text, i)
		b.WriteString(text[i:end])
		start = end
		i = end - 1
	}
	b.WriteString(fix(text[start:]))
	return b.String()
}

// stringEnd returns the index just past the string literal opening at start,
// or len(text) when it is unterminated.
func stringEnd(text string, start int) int {
	escaped := false
	for i := start + 1; i < len(text); i++ {
		switch {
		case escaped:
			escaped = false
		case text[i] == '\\':
			escaped = true
		case text[i] == '"':
			return i + 1
		}
	}
	return len(text)
}

// Parse decodes and validates a request frame. Strict JSON is tried first,
// then Repair once. Any failure is a *ParseError.
func Parse(data []byte) (*Request, error) {
	text := string(data)
	if !gjson.Valid(text) {
		repaired := Repair(text)
		if !gjson.Valid(repaired) {
			return nil, newParseError(text, "invalid JSON")
		}
		text = repaired
	}

	root := gjson.Parse(text)
	if err := validate(root); err != nil {
		return nil, newParseError(text, err.Error())
	}

	req := &Request{
		Meta: Meta{
			MessageID:      root.Get("meta.messageId").String(),
			ConversationID: root.Get("meta.conversationId").String(),
			TimestampMs:    root.Get("meta.timestampMs").Int(),
			ClientType:     DefaultClientType,
		},
		Payload: RequestPayload{
			Action:      Action(root.Get("payload.action").String()),
			Site:        stringField(root, "payload.site"),
			OriginalCmd: stringField(root, "payload.originalCmd"),
			Option:      stringField(root, "payload.option"),
		},
	}
	if ct := stringField(root, "meta.clientType"); ct != "" {
		req.Meta.ClientType = ct
	}
	if params := root.Get("payload.params"); params.Exists() {
		req.Payload.Params = json.RawMessage(params.Raw)
	}
	return req, nil
}

func validate(root gjson.Result) error {
	if !root.IsObject() {
		return fmt.Errorf("envelope must be a JSON object")
	}
	checks := []struct {
		path string
		kind gjson.Type
		name string
	}{
		{"meta.messageId", gjson.String, "string"},
		{"meta.conversationId", gjson.String, "string"},
		{"meta.timestampMs", gjson.Number, "number"},
		{"payload.action", gjson.String, "string"},
	}
	for _, c := range checks {
		v := root.Get(c.path)
		if !v.Exists() {
			return fmt.Errorf("missing %s", c.path)
		}
		if v.Type != c.kind {
			return fmt.Errorf("%s must be a %s", c.path, c.name)
		}
	}
	return nil
}

func stringField(root gjson.Result, path string) string {
	v := root.Get(path)
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

func newParseError(text, reason string) *ParseError {
	perr := &ParseError{Reason: reason}
	if m := messageIDRe.FindStringSubmatch(text); m != nil {
		perr.MessageID = m[1]
	} else {
		perr.MessageID = "parse-" + uuid.NewString()
	}
	if m := conversationRe.FindStringSubmatch(text); m != nil {
		perr.ConversationID = m[1]
	}
	return perr
}
