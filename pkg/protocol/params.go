package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Command values accepted by the command action.
const (
	CommandStart     = "start"
	CommandStop      = "stop"
	CommandReconnect = "reconnect"
	CommandStatus    = "status"
)

// ConnectTabParams selects the tab to connect to. An empty TabID keeps the current tab.
type ConnectTabParams struct {
	TabID string `json:"tabId,omitempty"`
}

// SiteScriptParams names a site script and the value substituted into it.
type SiteScriptParams struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

func (p RequestPayload) params() gjson.Result {
	if len(p.Params) == 0 {
		return gjson.Result{}
	}
	return gjson.ParseBytes(p.Params)
}

// StringParam returns params as a non-empty string.
func (p RequestPayload) StringParam() (string, error) {
	v := p.params()
	if v.Type != gjson.String {
		return "", fmt.Errorf("%s: params must be a string", p.Action)
	}
	s := strings.TrimSpace(v.String())
	if s == "" {
		return "", fmt.Errorf("%s: params must not be empty", p.Action)
	}
	return s, nil
}

// ConnectTab decodes connectTab params: absent, a tab id string, or {"tabId": "..."}.
func (p RequestPayload) ConnectTab() (ConnectTabParams, error) {
	v := p.params()
	switch {
	case !v.Exists() || v.Type == gjson.Null:
		return ConnectTabParams{}, nil
	case v.Type == gjson.String:
		return ConnectTabParams{TabID: v.String()}, nil
	case v.IsObject():
		id := v.Get("tabId")
		if id.Exists() && id.Type != gjson.String {
			return ConnectTabParams{}, fmt.Errorf("connectTab: tabId must be a string")
		}
		return ConnectTabParams{TabID: id.String()}, nil
	}
	return ConnectTabParams{}, fmt.Errorf("connectTab: params must be a tab id or an object")
}

// Command decodes command params: "start", "stop", "reconnect" or "status",
// either as a string or as {"command": "..."}.
func (p RequestPayload) Command() (string, error) {
	v := p.params()
	if v.IsObject() {
		v = v.Get("command")
	}
	if v.Type != gjson.String {
		return "", fmt.Errorf("command: params must be one of start, stop, reconnect, status")
	}
	cmd := strings.ToLower(strings.TrimSpace(v.String()))
	switch cmd {
	case CommandStart, CommandStop, CommandReconnect, CommandStatus:
		return cmd, nil
	}
	return "", fmt.Errorf("command: unsupported command %q", v.String())
}

// SiteScript decodes siteScript params: a key string or {"key": "...", "value": ...}.
func (p RequestPayload) SiteScript() (SiteScriptParams, error) {
	v := p.params()
	switch {
	case v.Type == gjson.String:
		if v.String() == "" {
			return SiteScriptParams{}, fmt.Errorf("siteScript: key must not be empty")
		}
		return SiteScriptParams{Key: v.String()}, nil
	case v.IsObject():
		var params SiteScriptParams
		if err := json.Unmarshal(p.Params, &params); err != nil {
			return SiteScriptParams{}, fmt.Errorf("siteScript: invalid params: %w", err)
		}
		if params.Key == "" {
			return SiteScriptParams{}, fmt.Errorf("siteScript: key must not be empty")
		}
		return params, nil
	}
	return SiteScriptParams{}, fmt.Errorf("siteScript: params must be a key or an object with a key")
}
