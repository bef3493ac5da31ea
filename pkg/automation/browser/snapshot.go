package browser

import (
	"fmt"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html"
)

// Element is one interactive element found in a page.
type Element struct {
	Index    int
	Tag      string
	Selector string
	Label    string
}

// PageSnapshot is a compact description of a page for the engine prompt.
type PageSnapshot struct {
	Title       string
	Description string
	Headings    []string
	Elements    []Element
	Truncated   bool
}

// ParseSnapshot extracts the title, the outline and up to maxElements
// interactive elements from raw HTML. Scripts, styles and other noise are skipped.
func ParseSnapshot(rawHTML string, maxElements int) (*PageSnapshot, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	snap := &PageSnapshot{}
	walkSnapshot(doc, snap, maxElements)
	return snap, nil
}

func walkSnapshot(n *html.Node, snap *PageSnapshot, maxElements int) {
	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)
		if isSkippedElement(tag) {
			return
		}

		switch {
		case tag == "title" && snap.Title == "":
			snap.Title = collapse(textOf(n), 120)
			return
		case tag == "meta" && attr(n, "name") == "description":
			snap.Description = collapse(attr(n, "content"), 200)
		case tag == "h1" || tag == "h2" || tag == "h3":
			if text := collapse(textOf(n), 80); text != "" {
				snap.Headings = append(snap.Headings, tag+": "+text)
			}
		}

		if isInteractive(n, tag) {
			if len(snap.Elements) >= maxElements {
				snap.Truncated = true
				return
			}
			snap.Elements = append(snap.Elements, Element{
				Index:    len(snap.Elements) + 1,
				Tag:      tag,
				Selector: selectorHint(n, tag),
				Label:    labelOf(n),
			})
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkSnapshot(c, snap, maxElements)
	}
}

// Render formats the snapshot as plain text, capped at maxLength bytes.
func (s *PageSnapshot) Render(url string, maxLength int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "URL: %s\nTitle: %s\n", url, s.Title)
	if s.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", s.Description)
	}

	if len(s.Headings) > 0 {
		b.WriteString("\nOutline:\n")
		for _, h := range s.Headings {
			fmt.Fprintf(&b, "- %s\n", h)
		}
	}

	b.WriteString("\nInteractive elements:\n")
	for _, el := range s.Elements {
		line := fmt.Sprintf("[%d] %s", el.Index, el.Selector)
		if el.Label != "" {
			line += fmt.Sprintf(" %q", el.Label)
		}
		if b.Len()+len(line)+1 > maxLength {
			b.WriteString("[snapshot truncated]\n")
			return b.String()
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if s.Truncated {
		b.WriteString("[more elements omitted]\n")
	}
	return b.String()
}

var interactiveRoles = map[string]bool{
	"button":   true,
	"link":     true,
	"checkbox": true,
	"radio":    true,
	"tab":      true,
	"menuitem": true,
	"option":   true,
	"switch":   true,
	"textbox":  true,
	"combobox": true,
}

func isInteractive(n *html.Node, tag string) bool {
	switch tag {
	case "button", "select", "textarea", "summary":
		return true
	case "a":
		return hasAttr(n, "href")
	case "input":
		return attr(n, "type") != "hidden"
	}
	if interactiveRoles[strings.ToLower(attr(n, "role"))] {
		return true
	}
	return hasAttr(n, "onclick") || strings.EqualFold(attr(n, "contenteditable"), "true")
}

// selectorHint builds the most specific short CSS selector the attributes allow.
func selectorHint(n *html.Node, tag string) string {
	if id := attr(n, "id"); id != "" && !strings.ContainsAny(id, " \t") {
		return tag + "#" + id
	}
	for _, key := range []string{"data-testid", "data-test", "name", "aria-label"} {
		if v := attr(n, key); v != "" {
			return fmt.Sprintf("%s[%s=%q]", tag, key, v)
		}
	}
	classes := lo.Filter(strings.Fields(attr(n, "class")), func(c string, _ int) bool {
		return !strings.ContainsAny(c, ":[]/")
	})
	if len(classes) > 0 {
		return tag + "." + strings.Join(lo.Slice(classes, 0, 2), ".")
	}
	if t := attr(n, "type"); tag == "input" && t != "" {
		return fmt.Sprintf("input[type=%q]", t)
	}
	return tag
}

func labelOf(n *html.Node) string {
	for _, key := range []string{"aria-label", "placeholder", "alt", "title"} {
		if v := attr(n, key); v != "" {
			return collapse(v, 80)
		}
	}
	if text := collapse(textOf(n), 80); text != "" {
		return text
	}
	return collapse(attr(n, "value"), 80)
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.ElementNode && isSkippedElement(strings.ToLower(c.Data)) {
			return
		}
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			b.WriteByte(' ')
		}
		for child := c.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(n)
	return b.String()
}

// collapse squeezes whitespace and truncates to max runes.
func collapse(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > max {
		return string(r[:max]) + "..."
	}
	return s
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

func isSkippedElement(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "template", "svg", "iframe", "object", "embed":
		return true
	}
	return false
}
