// Package headless drives a single Chrome tab through chromedp for search
// navigations that need a real browser fingerprint.
package headless

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-citations/internal/retrieval"
)

const webdriverMask = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined})`

// Config controls the browser session.
type Config struct {
	Headless          bool          `mapstructure:"headless"`
	UserAgent         string        `mapstructure:"user_agent"`
	WindowWidth       int           `mapstructure:"window_width"`
	WindowHeight      int           `mapstructure:"window_height"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout"`
	RootSelector      string        `mapstructure:"root_selector"`
	ElementAttempts   int           `mapstructure:"element_attempts"`
	ElementBackoff    time.Duration `mapstructure:"element_backoff"`
	ExecPath          string        `mapstructure:"exec_path"`
}

// DefaultConfig returns a visible browser so operators can solve CAPTCHAs in
// the same tab.
func DefaultConfig() Config {
	return Config{
		Headless:          false,
		UserAgent:         "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/74.0.3729.169 Safari/537.36",
		WindowWidth:       1280,
		WindowHeight:      800,
		NavigationTimeout: 45 * time.Second,
		RootSelector:      "body",
		ElementAttempts:   5,
		ElementBackoff:    time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.UserAgent == "" {
		c.UserAgent = def.UserAgent
	}
	if c.WindowWidth <= 0 || c.WindowHeight <= 0 {
		c.WindowWidth, c.WindowHeight = def.WindowWidth, def.WindowHeight
	}
	if c.NavigationTimeout <= 0 {
		c.NavigationTimeout = def.NavigationTimeout
	}
	if c.RootSelector == "" {
		c.RootSelector = def.RootSelector
	}
	if c.ElementAttempts <= 0 {
		c.ElementAttempts = def.ElementAttempts
	}
	if c.ElementBackoff < 0 {
		c.ElementBackoff = 0
	}
	return c
}

// Fetcher implements retrieval.Fetcher with one reused tab. Calls are
// serialized; the tab's navigation state is shared by every caller.
type Fetcher struct {
	cfg     Config
	sleeper retrieval.Sleeper
	logger  *zap.Logger

	mu              sync.Mutex
	prepared        bool
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc
}

// NewChromedp prepares the allocator and tab contexts. Chrome itself starts
// on the first Fetch.
func NewChromedp(cfg Config, sleeper retrieval.Sleeper, logger *zap.Logger) (*Fetcher, error) {
	if sleeper == nil {
		return nil, errors.New("headless: sleeper is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions(cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	return &Fetcher{
		cfg:             cfg,
		sleeper:         sleeper,
		logger:          logger,
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
	}, nil
}

func allocatorOptions(cfg Config) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-notifications", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
		chromedp.UserAgent(cfg.UserAgent),
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	return opts
}

// Close shuts the tab and the browser.
func (f *Fetcher) Close() {
	if f == nil {
		return
	}
	f.browserCancel()
	f.allocatorCancel()
}

// Fetch navigates the tab to url and returns the serialized root element once
// it can be queried. ctx cancellation aborts the navigation and the wait.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.prepare(); err != nil {
		return nil, err
	}

	navCtx, cancel := context.WithTimeout(f.browserCtx, f.cfg.NavigationTimeout)
	defer cancel()
	stopForward := forwardCancel(ctx, cancel)
	defer stopForward()

	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("navigate: %w", err)
	}
	html, err := f.waitForRoot(ctx, chromeProbe(navCtx, f.cfg.RootSelector))
	if err != nil {
		return nil, err
	}
	return []byte(html), nil
}

// prepare starts Chrome and installs the automation mask on the first call.
func (f *Fetcher) prepare() error {
	if f.prepared {
		return nil
	}
	err := chromedp.Run(f.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		if _, err := page.AddScriptToEvaluateOnNewDocument(webdriverMask).Do(ctx); err != nil {
			return fmt.Errorf("install webdriver mask: %w", err)
		}
		if err := emulation.SetUserAgentOverride(f.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	f.prepared = true
	f.logger.Info("browser session started",
		zap.Bool("headless", f.cfg.Headless),
		zap.Int("width", f.cfg.WindowWidth),
		zap.Int("height", f.cfg.WindowHeight),
	)
	return nil
}

// rootProbe reports the root element's markup and whether it exists yet.
type rootProbe func() (string, bool, error)

func chromeProbe(ctx context.Context, selector string) rootProbe {
	return func() (string, bool, error) {
		var html string
		var count int
		err := chromedp.Run(ctx,
			chromedp.Evaluate(fmt.Sprintf(`document.querySelectorAll(%q).length`, selector), &count),
		)
		if err != nil {
			return "", false, err
		}
		if count == 0 {
			return "", false, nil
		}
		if err := chromedp.Run(ctx, chromedp.OuterHTML(selector, &html, chromedp.ByQuery)); err != nil {
			return "", false, err
		}
		return html, true, nil
	}
}

// waitForRoot polls probe up to ElementAttempts times, sleeping
// ElementBackoff between attempts.
func (f *Fetcher) waitForRoot(ctx context.Context, probe rootProbe) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= f.cfg.ElementAttempts; attempt++ {
		html, found, err := probe()
		if err == nil && found {
			return html, nil
		}
		if err != nil {
			lastErr = err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		f.logger.Debug("root element not ready",
			zap.String("selector", f.cfg.RootSelector),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == f.cfg.ElementAttempts {
			break
		}
		if err := f.sleeper.Sleep(ctx, f.cfg.ElementBackoff); err != nil {
			return "", err
		}
	}
	if lastErr != nil {
		return "", fmt.Errorf("%w: %s after %d attempts: %w", retrieval.ErrElementNotFound, f.cfg.RootSelector, f.cfg.ElementAttempts, lastErr)
	}
	return "", fmt.Errorf("%w: %s after %d attempts", retrieval.ErrElementNotFound, f.cfg.RootSelector, f.cfg.ElementAttempts)
}

// forwardCancel cancels the navigation when the caller's context ends.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
