// Package headless renders pages in headless Chrome for layouts that only
// appear after scripts run, such as anti-bot interstitials.
package headless

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ErrDisabled is returned by Noop.
var ErrDisabled = errors.New("headless renderer not configured")

// Config controls the renderer.
type Config struct {
	UserAgent         string
	AcceptLanguage    string
	NavigationTimeout time.Duration
	// WaitSelector is awaited before the DOM is captured; defaults to body.
	WaitSelector string
	// Settle is an extra pause after WaitSelector is ready.
	Settle time.Duration
}

// Renderer returns the rendered outer HTML of a page.
type Renderer struct {
	cfg         Config
	allocator   context.Context
	allocCancel context.CancelFunc
}

// NewChromedp creates a renderer backed by a shared Chrome allocator.
func NewChromedp(cfg Config) (*Renderer, error) {
	if cfg.NavigationTimeout < 0 {
		return nil, fmt.Errorf("navigation timeout must be >= 0")
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Renderer{cfg: cfg, allocator: allocCtx, allocCancel: allocCancel}, nil
}

// Close shuts the browser down.
func (r *Renderer) Close() {
	if r.allocCancel != nil {
		r.allocCancel()
	}
}

// Render navigates to rawURL and returns the document HTML.
func (r *Renderer) Render(ctx context.Context, rawURL string) (string, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, r.navTimeout())
	defer cancel()

	// Tie the browser tab to the caller's context as well.
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var html string
	actions := []chromedp.Action{
		r.networkSetupAction(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady(r.waitSelector(), chromedp.ByQuery),
		chromedp.Sleep(r.cfg.Settle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	return strings.ToValidUTF8(html, ""), nil
}

func (r *Renderer) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			override := emulation.SetUserAgentOverride(r.cfg.UserAgent)
			if r.cfg.AcceptLanguage != "" {
				override = override.WithAcceptLanguage(r.cfg.AcceptLanguage)
			}
			if err := override.Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if r.cfg.AcceptLanguage != "" {
			headers := network.Headers{"Accept-Language": r.cfg.AcceptLanguage}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (r *Renderer) navTimeout() time.Duration {
	if r.cfg.NavigationTimeout > 0 {
		return r.cfg.NavigationTimeout
	}
	return 45 * time.Second
}

func (r *Renderer) waitSelector() string {
	if r.cfg.WaitSelector != "" {
		return r.cfg.WaitSelector
	}
	return "body"
}

// Noop stands in when headless rendering is disabled.
type Noop struct{}

// Render always fails with ErrDisabled.
func (Noop) Render(context.Context, string) (string, error) {
	return "", ErrDisabled
}
