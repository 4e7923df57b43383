// File: cmd/fill.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/config"
	"github.com/xkilldash9x/metafill/internal/content"
	"github.com/xkilldash9x/metafill/internal/inference"
	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/messaging"
	"github.com/xkilldash9x/metafill/internal/observability"
)

// fillReport is what `fill` prints. Results is set for key/value fills and
// Metadata for metadata fills.
type fillReport struct {
	Results    map[string]bool            `json:"results,omitempty"`
	Metadata   *content.FillReport        `json:"metadata,omitempty"`
	FormData   map[string]string          `json:"formData"`
	Validation *injector.ValidationResult `json:"validation"`
	Events     []string                   `json:"events"`
}

func newFillCmd() *cobra.Command {
	var (
		src          pageSource
		values       map[string]string
		valuesFile   string
		metadataFile string
		form         string
	)
	fillCmd := &cobra.Command{
		Use:   "fill [page.html]",
		Short: "Fill form fields on a page the way a user would type them",
		Long: `Writes values into a page through synthetic user input and prints the
per-field results, the resulting form data and its validation state.

Values are given by field key, id or name with --set or --values, or as a
generated metadata document with --metadata, which is mapped onto the
title, keyword, category and license fields.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				src.file = args[0]
			}
			if valuesFile != "" {
				if values, err = readValues(valuesFile, values); err != nil {
					return err
				}
			}
			if len(values) == 0 && metadataFile == "" {
				return errors.New("nothing to fill: pass --set, --values or --metadata")
			}

			logger := observability.GetLogger().Named("fill")
			p, err := openPage(cmd.Context(), cfg, src, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			bridge, err := content.NewBridge(p.inj, 256, logger)
			if err != nil {
				return err
			}
			defer bridge.Close()
			report := &fillReport{}
			if len(values) > 0 {
				if report.Results, err = p.inj.FillFields(values); err != nil {
					return err
				}
			}
			if metadataFile != "" {
				if report.Metadata, err = fillMetadata(cmd.Context(), cfg, p, metadataFile, logger); err != nil {
					return err
				}
			}
			if report.FormData, err = p.inj.GetFormData(form); err != nil {
				return err
			}
			if report.Validation, err = p.inj.ValidateForm(form); err != nil {
				return err
			}
			report.Events = drain(bridge)
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	addPageFlags(fillCmd, &src)
	fillCmd.Flags().StringToStringVar(&values, "set", nil, "field=value pairs to fill")
	fillCmd.Flags().StringVar(&valuesFile, "values", "", "JSON object of field to value")
	fillCmd.Flags().StringVar(&metadataFile, "metadata", "", "JSON metadata document to fill into the detected fields")
	fillCmd.Flags().StringVar(&form, "form", "form", "selector of the form to read back")
	return fillCmd
}

// readValues merges a JSON object file under the --set pairs, which win.
func readValues(path string, set map[string]string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read values: %w", err)
	}
	var values map[string]string
	if err := json.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("invalid values file %s: %w", path, err)
	}
	if values == nil {
		values = make(map[string]string, len(set))
	}
	for k, v := range set {
		values[k] = v
	}
	return values, nil
}

// fillMetadata fills md through an in-process background, which supplies the
// settings (language priority) the mapping depends on.
func fillMetadata(ctx context.Context, cfg *config.Config, p *page, path string, logger *zap.Logger) (*content.FillReport, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata: %w", err)
	}
	var md inference.Metadata
	if err := json.Unmarshal(raw, &md); err != nil {
		return nil, fmt.Errorf("invalid metadata file %s: %w", path, err)
	}

	_, router, err := newBackground(cfg, logger)
	if err != nil {
		return nil, err
	}
	defer router.Wait()
	o := content.New(p.inj, messaging.NewClient(router, logger), cfg.Content, logger)
	return o.FillMetadata(ctx, md)
}

// drain closes the bridge and returns the names of the events it relayed.
func drain(b *content.Bridge) []string {
	_ = b.Close()
	names := []string{}
	for e := range b.Events() {
		names = append(names, e.Name)
	}
	return names
}
