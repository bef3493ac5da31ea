package browser

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/entrhq/pilot/pkg/automation"
	"github.com/entrhq/pilot/pkg/logging"
	"github.com/playwright-community/playwright-go"
)

// DefaultTimeout bounds individual page operations.
const DefaultTimeout = 30 * time.Second

// FactoryConfig configures how handles attach to Chrome.
type FactoryConfig struct {
	// Endpoint is the CDP endpoint, e.g. http://localhost:9222.
	Endpoint string

	// TabURL selects the first tab whose URL contains it. Empty selects the first tab.
	TabURL string

	// Timeout bounds connecting and individual page operations.
	Timeout time.Duration
}

// Factory creates handles attached to an existing Chrome over CDP.
// The Playwright driver is started on first use and shared by all handles.
type Factory struct {
	cfg    FactoryConfig
	engine Engine
	logger *logging.Logger

	mu sync.Mutex
	pw *playwright.Playwright
}

var _ automation.Factory = (*Factory)(nil)

// NewFactory creates a factory. The engine serves RunInstruction and Assert.
func NewFactory(cfg FactoryConfig, engine Engine, logger *logging.Logger) *Factory {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Factory{cfg: cfg, engine: engine, logger: logger}
}

// driver starts the Playwright driver once. Browsers are never downloaded
// since pilot only attaches to a running Chrome.
func (f *Factory) driver() (*playwright.Playwright, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pw != nil {
		return f.pw, nil
	}

	opts := &playwright.RunOptions{
		SkipInstallBrowsers: true,
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
	}
	if err := playwright.Install(opts); err != nil {
		return nil, fmt.Errorf("failed to install playwright driver: %w", err)
	}

	pw, err := playwright.Run(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}
	f.pw = pw
	return pw, nil
}

// Create connects to Chrome and binds a handle to the configured tab.
func (f *Factory) Create(ctx context.Context) (automation.Handle, error) {
	pw, err := f.driver()
	if err != nil {
		return nil, err
	}

	timeoutMs := float64(f.cfg.Timeout / time.Millisecond)
	browser, err := awaitOwned(ctx, func() (playwright.Browser, error) {
		return pw.Chromium.ConnectOverCDP(f.cfg.Endpoint, playwright.BrowserTypeConnectOverCDPOptions{
			Timeout: playwright.Float(timeoutMs),
		})
	}, f.closeAbandoned)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to %s: %v", automation.ErrDisconnected, f.cfg.Endpoint, err)
	}

	page := selectPage(browser, f.cfg.TabURL)
	if page == nil {
		_ = browser.Close()
		if f.cfg.TabURL != "" {
			return nil, fmt.Errorf("%w: no tab is connected (no tab matches %q)", automation.ErrDisconnected, f.cfg.TabURL)
		}
		return nil, fmt.Errorf("%w: no tab is connected", automation.ErrDisconnected)
	}
	page.SetDefaultTimeout(timeoutMs)

	f.logger.Infof("attached to %s via %s", page.URL(), f.cfg.Endpoint)
	return newHandle(browser, page, f.engine, f.logger), nil
}

// closeAbandoned closes a connection that finished after its caller gave up.
func (f *Factory) closeAbandoned(browser playwright.Browser) {
	if browser == nil {
		return
	}
	if err := browser.Close(); err != nil {
		f.logger.Debugf("closing abandoned CDP connection: %v", err)
	}
}

// selectPage returns the first open page whose URL contains tabURL, or the
// first open page when tabURL is empty.
func selectPage(browser playwright.Browser, tabURL string) playwright.Page {
	for _, bctx := range browser.Contexts() {
		for _, page := range bctx.Pages() {
			if page.IsClosed() {
				continue
			}
			if tabURL == "" || strings.Contains(page.URL(), tabURL) {
				return page
			}
		}
	}
	return nil
}

// Shutdown stops the Playwright driver. Handles created earlier become unusable.
func (f *Factory) Shutdown() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.pw == nil {
		return nil
	}
	err := f.pw.Stop()
	f.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}
