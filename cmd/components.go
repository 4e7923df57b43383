// File: cmd/components.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/background"
	"github.com/xkilldash9x/metafill/internal/browser/dom"
	"github.com/xkilldash9x/metafill/internal/browser/eventloop"
	"github.com/xkilldash9x/metafill/internal/browser/jsbind"
	"github.com/xkilldash9x/metafill/internal/config"
	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/messaging"
)

// pageSource names where a page comes from: a saved HTML file or a live URL,
// plus an optional script run in the page's realm after the API is installed.
type pageSource struct {
	file   string
	url    string
	script string
}

func addPageFlags(cmd *cobra.Command, src *pageSource) {
	cmd.Flags().StringVar(&src.url, "url", "", "render this URL in Chrome instead of reading a file")
	cmd.Flags().StringVar(&src.script, "script", "", "JavaScript file to run in the page after the API is installed")
}

// page is a loaded document with the injector installed on it.
type page struct {
	loop  *eventloop.Loop
	doc   *dom.Document
	realm *jsbind.Realm
	inj   *injector.Injector
}

func openPage(ctx context.Context, cfg *config.Config, src pageSource, logger *zap.Logger) (*page, error) {
	if (src.file == "") == (src.url == "") {
		return nil, errors.New("exactly one of a page file or --url is required")
	}

	loop := eventloop.New(logger)
	loop.Start()
	p := &page{loop: loop}

	var err error
	if src.url != "" {
		bo := dom.BrowserOptions{
			Headless:     cfg.Browser.Headless,
			ExecPath:     cfg.Browser.ExecPath,
			Headers:      cfg.Browser.Headers,
			WaitSelector: cfg.Browser.WaitSelector,
			Timeout:      cfg.Browser.Timeout,
		}
		p.doc, err = dom.LoadFromBrowser(ctx, src.url, loop, bo, dom.WithLogger(logger))
	} else {
		p.doc, err = parseFile(src.file, loop, logger)
	}
	if err != nil {
		loop.Stop()
		return nil, err
	}

	opts := []injector.Option{injector.WithConfig(cfg.Injector), injector.WithLogger(logger)}
	if src.script != "" {
		if err := p.runScript(src.script, opts); err != nil {
			p.Close()
			return nil, err
		}
	}
	if p.inj, err = injector.Install(p.doc, opts...); err != nil {
		p.Close()
		return nil, fmt.Errorf("failed to install page API: %w", err)
	}
	return p, nil
}

func parseFile(path string, loop *eventloop.Loop, logger *zap.Logger) (*dom.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return dom.Parse(f, loop, dom.WithLogger(logger), dom.WithURL("file://"+filepath.ToSlash(abs)))
}

// runScript creates the script realm, binds the API into it and evaluates the
// file. The later injector.Install returns a handle on this same API.
func (p *page) runScript(path string, opts []injector.Option) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read script: %w", err)
	}
	var runErr error
	err = p.loop.Do(func() {
		if p.realm, runErr = jsbind.New(p.doc, p.doc.Logger()); runErr != nil {
			return
		}
		if _, runErr = p.realm.Install(opts...); runErr != nil {
			return
		}
		_, runErr = p.realm.Run(filepath.Base(path), string(src))
	})
	if err != nil {
		return err
	}
	return runErr
}

// Close tears the page down and stops its loop.
func (p *page) Close() {
	if p.inj != nil {
		_ = p.inj.Uninstall()
	}
	if p.realm != nil {
		_ = p.loop.Do(p.realm.Close)
	}
	p.loop.Stop()
}

// newBackground builds the background realm: an inference client, the
// controller over it and a router answering every action.
func newBackground(cfg *config.Config, logger *zap.Logger) (*background.Controller, *messaging.Router, error) {
	client, err := inference.New(cfg.Inference, logger)
	if err != nil {
		return nil, nil, err
	}
	ctl := background.New(client, client.BaseURL(), cfg.Background, logger)
	router := messaging.NewRouter(logger)
	ctl.Register(router)
	return ctl, router, nil
}
