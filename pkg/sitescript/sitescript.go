// Package sitescript holds the per-site JavaScript snippets run by the
// siteScript action.
package sitescript

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/lo"
	"gopkg.in/yaml.v3"
)

// Placeholder is replaced with the JSON encoding of the request value.
const Placeholder = "${value}"

// ErrUnknownScript reports a site or key with no script.
var ErrUnknownScript = errors.New("unknown site script")

//go:embed scripts.yaml
var defaultScripts []byte

// Entry is one site pattern and its scripts.
type Entry struct {
	Site    string            `yaml:"site"`
	Scripts map[string]string `yaml:"scripts"`
}

type document struct {
	Sites []Entry `yaml:"sites"`
}

type compiled struct {
	Entry
	pattern glob.Glob
}

// Table resolves site scripts. Entries are matched in declaration order.
type Table struct {
	entries []compiled
}

// Default returns the built-in table.
func Default() (*Table, error) {
	return Parse(defaultScripts)
}

// Load reads a table from path, or returns the built-in table when path is empty.
func Load(path string) (*Table, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read site scripts: %w", err)
	}
	table, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

// Parse decodes a YAML table.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse site scripts: %w", err)
	}

	table := &Table{}
	for i, e := range doc.Sites {
		if e.Site == "" {
			return nil, fmt.Errorf("site scripts entry %d: site pattern is required", i)
		}
		if len(e.Scripts) == 0 {
			return nil, fmt.Errorf("site scripts entry %q: no scripts", e.Site)
		}
		g, err := glob.Compile(strings.ToLower(e.Site))
		if err != nil {
			return nil, fmt.Errorf("site scripts entry %q: invalid pattern: %w", e.Site, err)
		}
		table.entries = append(table.entries, compiled{Entry: e, pattern: g})
	}
	return table, nil
}

// Lookup returns the script for key on site. The first matching entry that
// defines key wins, so specific patterns should come before catch-alls.
func (t *Table) Lookup(site, key string) (string, error) {
	site = strings.ToLower(strings.TrimSpace(site))
	matched := false
	for _, e := range t.entries {
		if !e.pattern.Match(site) {
			continue
		}
		matched = true
		if script, ok := e.Scripts[key]; ok {
			return script, nil
		}
	}
	if !matched {
		return "", fmt.Errorf("%w: no scripts for site %q", ErrUnknownScript, site)
	}
	return "", fmt.Errorf("%w: no script %q for site %q", ErrUnknownScript, key, site)
}

// Render looks up the script and substitutes value for every placeholder.
func (t *Table) Render(site, key string, value any) (string, error) {
	script, err := t.Lookup(site, key)
	if err != nil {
		return "", err
	}
	if !strings.Contains(script, Placeholder) {
		return script, nil
	}
	encoded, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	return strings.ReplaceAll(script, Placeholder, string(encoded)), nil
}

// Keys lists the script keys available on site, sorted.
func (t *Table) Keys(site string) []string {
	site = strings.ToLower(strings.TrimSpace(site))
	var keys []string
	for _, e := range t.entries {
		if e.pattern.Match(site) {
			keys = append(keys, lo.Keys(e.Scripts)...)
		}
	}
	keys = lo.Uniq(keys)
	sort.Strings(keys)
	return keys
}
