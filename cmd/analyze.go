// File: cmd/analyze.go
package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/background"
	"github.com/xkilldash9x/metafill/internal/content"
	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/messaging"
	"github.com/xkilldash9x/metafill/internal/observability"
)

type analyzeReport struct {
	Analysis *inference.Analysis `json:"analysis"`
	// Fill is absent when auto fill is disabled.
	Fill   *content.FillReport `json:"fill,omitempty"`
	Stats  background.Stats    `json:"stats"`
	Events []string            `json:"events"`
}

func newAnalyzeCmd() *cobra.Command {
	var src pageSource
	analyzeCmd := &cobra.Command{
		Use:   "analyze IMAGE [page.html]",
		Short: "Generate metadata for an image and fill it into an upload page",
		Long: `Sends the image to the inference server through the background realm and,
when auto fill is enabled, writes the generated titles, keywords, category and
license into the page's metadata fields.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) == 2 {
				src.file = args[1]
			}
			image, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			ctx := cmd.Context()
			logger := observability.GetLogger().Named("analyze")
			ctl, router, err := newBackground(cfg, logger)
			if err != nil {
				return err
			}
			defer router.Wait()
			if !ctl.CheckHealth(ctx) {
				return fmt.Errorf("inference server at %s: %w", cfg.Inference.BaseURL, inference.ErrServerOffline)
			}

			p, err := openPage(ctx, cfg, src, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			o := content.New(p.inj, messaging.NewClient(router, logger), cfg.Content, logger)
			if upload, err := o.IsUploadPage(); err == nil && !upload {
				logger.Warn("Page does not look like an upload page", zap.String("source", src.file+src.url))
			}
			bridge, err := content.NewBridge(p.inj, 256, logger)
			if err != nil {
				return err
			}
			defer bridge.Close()

			report := &analyzeReport{}
			report.Analysis, report.Fill, err = o.AnalyzeAndFill(ctx, base64.StdEncoding.EncodeToString(image))
			if err != nil {
				return fmt.Errorf("analysis failed: %w", err)
			}
			if report.Stats, err = o.Stats(ctx); err != nil {
				return err
			}
			report.Events = drain(bridge)
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	addPageFlags(analyzeCmd, &src)
	return analyzeCmd
}
