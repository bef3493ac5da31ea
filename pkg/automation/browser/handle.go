package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/automation"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// statusScript paints a small transient banner in the page.
const statusScript = `(message) => {
  const id = "__pilot_status";
  let el = document.getElementById(id);
  if (!el) {
    el = document.createElement("div");
    el.id = id;
    Object.assign(el.style, {
      position: "fixed", right: "12px", bottom: "12px", zIndex: "2147483647",
      padding: "6px 10px", borderRadius: "6px", font: "12px sans-serif",
      background: "rgba(20,20,20,0.85)", color: "#fff", pointerEvents: "none"
    });
    document.documentElement.appendChild(el);
  }
  el.textContent = message;
  clearTimeout(window.__pilotStatusTimer);
  window.__pilotStatusTimer = setTimeout(() => el.remove(), 3000);
  return true;
}`

// Handle is an automation.Handle attached to a Chrome tab over CDP.
type Handle struct {
	mu      sync.RWMutex
	browser playwright.Browser
	page    playwright.Page
	engine  Engine
	logger  *logging.Logger

	destroyOnce sync.Once
}

var _ automation.Handle = (*Handle)(nil)

func newHandle(browser playwright.Browser, page playwright.Page, engine Engine, logger *logging.Logger) *Handle {
	return &Handle{
		browser: browser,
		page:    page,
		engine:  engine,
		logger:  logger,
	}
}

// activePage returns the current page or ErrDisconnected when the browser or tab is gone.
func (h *Handle) activePage() (playwright.Page, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.browser == nil || !h.browser.IsConnected() {
		return nil, fmt.Errorf("%w: bridge client is not connected", automation.ErrDisconnected)
	}
	if h.page == nil || h.page.IsClosed() {
		return nil, fmt.Errorf("%w: no tab is connected", automation.ErrDisconnected)
	}
	return h.page, nil
}

// classify wraps err with ErrDisconnected when the browser went away underneath the call.
func (h *Handle) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	h.mu.RLock()
	lost := h.browser == nil || !h.browser.IsConnected() || h.page == nil || h.page.IsClosed()
	h.mu.RUnlock()

	if lost {
		return fmt.Errorf("%s: %w: %v", op, automation.ErrDisconnected, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// RunInstruction executes a natural-language instruction through the engine.
func (h *Handle) RunInstruction(ctx context.Context, instruction string) (any, error) {
	page, err := h.activePage()
	if err != nil {
		return nil, err
	}
	result, err := await(ctx, func() (any, error) {
		return h.engine.Act(ctx, page, instruction)
	})
	return result, h.classify("instruction", err)
}

// Assert verifies a natural-language assertion through the engine.
func (h *Handle) Assert(ctx context.Context, assertion string) error {
	page, err := h.activePage()
	if err != nil {
		return err
	}
	_, err = await(ctx, func() (struct{}, error) {
		return struct{}{}, h.engine.Assert(ctx, page, assertion)
	})
	return h.classify("assert", err)
}

// RunScript executes a structured script step by step on the active tab.
func (h *Handle) RunScript(ctx context.Context, script *automation.Script) (*automation.ScriptResult, error) {
	if text, err := script.YAML(); err == nil {
		h.logger.Debugf("running script:\n%s", text)
	}
	return runScript(ctx, h, script)
}

// EvaluateScript runs JavaScript in the active tab.
func (h *Handle) EvaluateScript(ctx context.Context, script string) (any, error) {
	page, err := h.activePage()
	if err != nil {
		return nil, err
	}
	result, err := await(ctx, func() (any, error) {
		return page.Evaluate(script)
	})
	return result, h.classify("evaluate", err)
}

// ShowStatus paints message in the page. Used as the quick liveness probe.
func (h *Handle) ShowStatus(ctx context.Context, message string) error {
	page, err := h.activePage()
	if err != nil {
		return err
	}
	_, err = await(ctx, func() (any, error) {
		return page.Evaluate(statusScript, message)
	})
	return h.classify("status", err)
}

// ListTabs enumerates pages across all browser contexts.
func (h *Handle) ListTabs(ctx context.Context) ([]automation.Tab, error) {
	active, err := h.activePage()
	if err != nil {
		return nil, err
	}

	tabs, err := await(ctx, func() ([]automation.Tab, error) {
		var tabs []automation.Tab
		for _, entry := range pagesOf(h.browser) {
			title, err := entry.page.Title()
			if err != nil {
				return nil, err
			}
			tabs = append(tabs, automation.Tab{
				ID:     entry.id,
				URL:    entry.page.URL(),
				Title:  title,
				Active: entry.page == active,
			})
		}
		return tabs, nil
	})
	if err != nil {
		return nil, h.classify("list tabs", err)
	}
	return tabs, nil
}

// SetActiveTab switches later operations to the tab with the given id.
func (h *Handle) SetActiveTab(ctx context.Context, id string) error {
	if _, err := h.activePage(); err != nil {
		return err
	}

	for _, entry := range pagesOf(h.browser) {
		if entry.id != id {
			continue
		}
		if _, err := await(ctx, func() (struct{}, error) {
			return struct{}{}, entry.page.BringToFront()
		}); err != nil {
			return h.classify("activate tab", err)
		}

		h.mu.Lock()
		h.page = entry.page
		h.mu.Unlock()
		h.logger.Infof("active tab set to %s (%s)", id, entry.page.URL())
		return nil
	}
	return fmt.Errorf("tab %q not found", id)
}

// Destroy disconnects from the browser. The tabs themselves stay open.
func (h *Handle) Destroy(ctx context.Context) error {
	var err error
	h.destroyOnce.Do(func() {
		h.mu.Lock()
		browser := h.browser
		h.page = nil
		h.mu.Unlock()

		if browser == nil || !browser.IsConnected() {
			return
		}
		_, err = await(ctx, func() (struct{}, error) {
			return struct{}{}, browser.Close()
		})
	})
	return err
}

// stepRunner implementation used by RunScript.

func (h *Handle) act(ctx context.Context, instruction string) (any, error) {
	return h.RunInstruction(ctx, instruction)
}

func (h *Handle) assert(ctx context.Context, assertion string) error {
	return h.Assert(ctx, assertion)
}

func (h *Handle) evaluate(ctx context.Context, code string) (any, error) {
	return h.EvaluateScript(ctx, code)
}

func (h *Handle) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type pageEntry struct {
	id   string
	page playwright.Page
}

// pagesOf lists every open page with a stable id. The id is the CDP target
// id when it can be read, otherwise the page's position.
func pagesOf(browser playwright.Browser) []pageEntry {
	var entries []pageEntry
	for _, bctx := range browser.Contexts() {
		for _, page := range bctx.Pages() {
			if page.IsClosed() {
				continue
			}
			id := targetID(bctx, page)
			if id == "" {
				id = fmt.Sprintf("page-%d", len(entries))
			}
			entries = append(entries, pageEntry{id: id, page: page})
		}
	}
	return entries
}

func targetID(bctx playwright.BrowserContext, page playwright.Page) string {
	session, err := bctx.NewCDPSession(page)
	if err != nil {
		return ""
	}
	defer func() { _ = session.Detach() }()

	info, err := session.Send("Target.getTargetInfo", map[string]interface{}{})
	if err != nil {
		return ""
	}
	return targetIDFrom(info)
}

// targetIDFrom reads targetInfo.targetId from a Target.getTargetInfo response.
func targetIDFrom(info interface{}) string {
	m, ok := info.(map[string]interface{})
	if !ok {
		return ""
	}
	ti, ok := m["targetInfo"].(map[string]interface{})
	if !ok {
		return ""
	}
	id, _ := ti["targetId"].(string)
	return strings.TrimSpace(id)
}

// await runs fn and returns early with ctx.Err() when ctx ends first.
// Playwright calls are not context-aware, so fn keeps running in the background.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	return awaitOwned(ctx, fn, nil)
}

// awaitOwned is await for results that hold resources. When ctx ends first,
// a successful late result is passed to release instead of being dropped.
func awaitOwned[T any](ctx context.Context, fn func() (T, error), release func(T)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		val, err := fn()
		done <- outcome{val, err}
	}()

	select {
	case out := <-done:
		return out.val, out.err
	case <-ctx.Done():
		if release != nil {
			go func() {
				if out := <-done; out.err == nil {
					release(out.val)
				}
			}()
		}
		var zero T
		return zero, ctx.Err()
	}
}
