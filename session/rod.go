package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/wardreport/config"
	"github.com/use-agent/wardreport/models"
	"github.com/use-agent/wardreport/sequencer"
)

// RodLauncher launches a headless Chromium through Rod and wraps one
// page in a driver.
type RodLauncher struct {
	cfg config.BrowserConfig
}

// NewRodLauncher creates a launcher from browser configuration.
func NewRodLauncher(cfg config.BrowserConfig) *RodLauncher {
	return &RodLauncher{cfg: cfg}
}

// Launch starts the browser process, connects over CDP, opens a page,
// injects stealth JS and mounts the resource-blocking router.
func (l *RodLauncher) Launch(ctx context.Context) (sequencer.Driver, func() error, error) {
	lau := launcher.New().
		Headless(l.cfg.Headless).
		NoSandbox(l.cfg.NoSandbox)

	if l.cfg.BrowserBin != "" {
		lau = lau.Bin(l.cfg.BrowserBin)
	}
	if l.cfg.Proxy != "" {
		lau = lau.Proxy(l.cfg.Proxy)
	}

	// Stability flags for long-lived automation sessions.
	lau.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	lau.Delete(flags.Flag("enable-automation"))
	lau.Set(flags.Flag("disable-background-timer-throttling"))
	lau.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	lau.Set(flags.Flag("disable-renderer-backgrounding"))
	lau.Set(flags.Flag("disable-component-update"))
	lau.Set(flags.Flag("disable-default-apps"))
	lau.Set(flags.Flag("disable-dev-shm-usage"))
	lau.Set(flags.Flag("disable-extensions"))
	lau.Set(flags.Flag("no-first-run"))

	controlURL, err := lau.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w", err)
	}
	slog.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return nil, nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		_ = browser.Close()
		return nil, nil, fmt.Errorf("failed to create page: %w", err)
	}

	// Stealth JS only takes effect for navigations after injection.
	if l.cfg.Stealth {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			slog.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
	}

	router := setupHijack(page, l.cfg.BlockedResourceTypes)

	closeFn := func() error {
		if router != nil {
			_ = router.Stop()
		}
		return browser.Close()
	}

	return &rodDriver{page: page}, closeFn, nil
}

// rodDriver implements sequencer.Driver over a single Rod page. Every
// operation binds the caller's context so bounded waits propagate into
// all CDP calls.
type rodDriver struct {
	page *rod.Page
}

func (d *rodDriver) Navigate(ctx context.Context, url string) error {
	p := d.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return categorize(err, "navigation failed")
	}
	// Best-effort settle; predicates do the real readiness check.
	if err := p.WaitDOMStable(300*time.Millisecond, 0.1); err != nil {
		slog.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", err)
	}
	return nil
}

func (d *rodDriver) Click(ctx context.Context, selector string) error {
	p := d.page.Context(ctx)
	el, err := p.Element(selector)
	if err != nil {
		return categorize(err, fmt.Sprintf("element %q not found", selector))
	}
	if err := el.Click(proto.InputMouseButtonLeft, 1); err != nil {
		return categorize(err, fmt.Sprintf("click on %q failed", selector))
	}
	return nil
}

func (d *rodDriver) Input(ctx context.Context, selector, text string) error {
	p := d.page.Context(ctx)
	el, err := p.Element(selector)
	if err != nil {
		return categorize(err, fmt.Sprintf("element %q not found", selector))
	}

	submit := strings.HasSuffix(text, "\n")
	text = strings.TrimSuffix(text, "\n")

	if err := el.Input(text); err != nil {
		return categorize(err, fmt.Sprintf("typing into %q failed", selector))
	}
	if submit {
		if err := el.Type(input.Enter); err != nil {
			return categorize(err, fmt.Sprintf("submitting %q failed", selector))
		}
	}
	return nil
}

func (d *rodDriver) Eval(ctx context.Context, code string) (string, error) {
	p := d.page.Context(ctx)
	res, err := p.Eval(code)
	if err != nil {
		return "", categorize(err, "eval failed")
	}
	return gsonToString(res.Value), nil
}

func (d *rodDriver) Scroll(ctx context.Context, viewports int) error {
	p := d.page.Context(ctx)

	res, err := p.Eval(`() => window.innerHeight`)
	if err != nil {
		return categorize(err, "failed to read viewport height")
	}
	height := res.Value.Int()

	for i := 0; i < viewports; i++ {
		if err := p.Mouse.Scroll(0, float64(height), 1); err != nil {
			return categorize(err, fmt.Sprintf("scroll step %d failed", i))
		}
		// Brief pause so lazy-loaded content can trigger.
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return categorize(ctx.Err(), "scroll interrupted")
		}
	}
	return nil
}

func (d *rodDriver) ElementExists(ctx context.Context, selector string) (bool, error) {
	p := d.page.Context(ctx)
	has, _, err := p.Has(selector)
	if err != nil {
		return false, categorize(err, fmt.Sprintf("probe for %q failed", selector))
	}
	return has, nil
}

func (d *rodDriver) PageHTML(ctx context.Context) (string, error) {
	p := d.page.Context(ctx)
	html, err := p.HTML()
	if err != nil {
		return "", categorize(err, "failed to read page HTML")
	}
	return html, nil
}

func (d *rodDriver) CurrentURL(ctx context.Context) (string, error) {
	p := d.page.Context(ctx)
	info, err := p.Info()
	if err != nil {
		return "", categorize(err, "failed to read page info")
	}
	return info.URL, nil
}

func (d *rodDriver) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	p := d.page.Context(ctx)
	rodCookies, err := p.Cookies(nil)
	if err != nil {
		return nil, categorize(err, "failed to read cookies")
	}

	cookies := make([]*http.Cookie, 0, len(rodCookies))
	for _, c := range rodCookies {
		cookies = append(cookies, &http.Cookie{
			Name:   c.Name,
			Value:  c.Value,
			Domain: c.Domain,
			Path:   c.Path,
		})
	}
	return cookies, nil
}

// gsonToString renders an eval result as a plain string: JS strings
// come back unquoted, everything else as compact JSON.
func gsonToString(v gson.JSON) string {
	switch val := v.Val().(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

// categorize wraps raw driver errors into pipeline errors. Transport
// disconnects become session crashes so the orchestrator can restart;
// cancellation propagates as such; anything else stays transient and is
// absorbed by step retry budgets.
func categorize(err error, msg string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled):
		return models.NewPipelineError(models.ErrCodeRunCancelled, msg, err)
	case isDisconnect(err):
		return models.NewPipelineError(models.ErrCodeSessionCrash, msg, err)
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

// disconnectMarkers are error substrings that indicate the CDP
// connection or browser process died rather than a page-level failure.
var disconnectMarkers = []string{
	"websocket",
	"connection closed",
	"connection reset",
	"broken pipe",
	"target closed",
	"session closed",
	"browser has been closed",
	"use of closed network connection",
}

func isDisconnect(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, marker := range disconnectMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
