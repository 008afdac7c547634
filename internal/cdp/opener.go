// Package cdp finds or opens the option chain tab the overlay attaches to.
package cdp

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cdpproto "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
)

// Opener discovers page targets through chromedp and opens the start URL when no tab matches.
type Opener struct {
	cdpURL   string
	filter   string
	startURL string
	open     bool
	registry *TabRegistry
	// settle is how long a freshly opened tab is given before its target is re-listed.
	settle time.Duration
}

func NewOpener(cdpURL, filter, startURL string, open bool, registry *TabRegistry) *Opener {
	if registry == nil {
		registry = NewTabRegistry()
	}
	return &Opener{
		cdpURL:   cdpURL,
		filter:   filter,
		startURL: startURL,
		open:     open,
		registry: registry,
		settle:   2 * time.Second,
	}
}

// Ensure returns the tab the overlay should attach to, opening one if allowed.
func (o *Opener) Ensure(ctx context.Context) (*TabInfo, error) {
	slog.Info("Connecting to Chromium", "url", o.cdpURL)

	allocCtx, allocCancel := chromedp.NewRemoteAllocator(ctx, o.cdpURL)
	defer allocCancel()

	tempCtx, tempCancel := chromedp.NewContext(allocCtx)
	defer tempCancel()

	if err := chromedp.Run(tempCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	targets, err := chromedp.Targets(tempCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate targets: %w", err)
	}
	slog.Info("Found browser targets", "count", len(targets))

	if t := PickTarget(targets, o.filter); t != nil {
		return o.registry.Register(t.TargetID, t.URL)
	}
	if !o.open {
		return nil, fmt.Errorf("no tabs found matching OVERLAY_TAB_URL_FILTER=%q", o.filter)
	}

	var id target.ID
	err = chromedp.Run(tempCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		// Created on the browser executor so the tab outlives tempCtx.
		browser := chromedp.FromContext(ctx).Browser
		var err error
		id, err = target.CreateTarget(o.startURL).Do(cdpproto.WithExecutor(ctx, browser))
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", o.startURL, err)
	}
	slog.Info("Opened option chain tab", "target_id", id, "url", truncateURL(o.startURL))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(o.settle):
	}
	return o.registry.Register(id, o.startURL)
}

// Registry exposes the tabs seen so far.
func (o *Opener) Registry() *TabRegistry { return o.registry }

// PickTarget returns the first page target whose URL matches filter, or nil.
func PickTarget(targets []*target.Info, filter string) *target.Info {
	for _, t := range targets {
		if t == nil || t.Type != "page" {
			continue
		}
		if !MatchesTabURL(t.URL, filter) {
			slog.Debug("Skipping tab (url filter)", "url", truncateURL(t.URL))
			continue
		}
		return t
	}
	return nil
}

// MatchesTabURL is a case-insensitive substring match; an empty filter matches everything.
func MatchesTabURL(url, filter string) bool {
	if filter == "" {
		return true
	}
	return strings.Contains(strings.ToLower(url), strings.ToLower(filter))
}

func truncateURL(url string) string {
	if len(url) > 120 {
		return url[:120] + "..."
	}
	return url
}
