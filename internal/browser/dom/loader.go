// internal/browser/dom/loader.go
package dom

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
)

// BrowserOptions controls how a live page is rendered before it is snapshotted.
type BrowserOptions struct {
	Headless bool
	// ExecPath overrides the Chrome binary. Empty uses chromedp's lookup.
	ExecPath string
	Headers  map[string]string
	// WaitSelector is awaited before the snapshot. Defaults to "body".
	WaitSelector string
	Timeout      time.Duration
}

// LoadFromBrowser renders url in Chrome, waits for it to settle and returns the
// resulting markup as a Document bound to loop. Scripts on the page have run,
// so SPA content is present; the Document itself does not execute them.
func LoadFromBrowser(ctx context.Context, url string, loop *eventloop.Loop, bo BrowserOptions, opts ...Option) (*Document, error) {
	if bo.Timeout <= 0 {
		bo.Timeout = 45 * time.Second
	}
	if bo.WaitSelector == "" {
		bo.WaitSelector = "body"
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts, chromedp.Flag("headless", bo.Headless))
	if bo.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(bo.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()
	runCtx, cancel := context.WithTimeout(browserCtx, bo.Timeout)
	defer cancel()

	tasks := chromedp.Tasks{network.Enable()}
	if len(bo.Headers) > 0 {
		headers := make(network.Headers, len(bo.Headers))
		for k, v := range bo.Headers {
			headers[k] = v
		}
		tasks = append(tasks, network.SetExtraHTTPHeaders(headers))
	}

	var markup, location string
	tasks = append(tasks,
		chromedp.Navigate(url),
		chromedp.WaitReady(bo.WaitSelector, chromedp.ByQuery),
		chromedp.Location(&location),
		chromedp.OuterHTML("html", &markup, chromedp.ByQuery),
	)
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", url, err)
	}

	if location == "" {
		location = url
	}
	return Parse(strings.NewReader(markup), loop, append(opts, WithURL(location))...)
}
