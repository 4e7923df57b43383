// File: cmd/scan.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/metafill/internal/content"
	"github.com/xkilldash9x/metafill/internal/injector"
	"github.com/xkilldash9x/metafill/internal/injector/registry"
	"github.com/xkilldash9x/metafill/internal/observability"
)

// scanReport is what `scan` prints.
type scanReport struct {
	URL        string                        `json:"url"`
	Framework  string                        `json:"framework"`
	UploadPage bool                          `json:"uploadPage"`
	Fields     map[string]registry.FieldInfo `json:"fields"`
	Slots      map[content.Slot]string       `json:"slots"`
	Upload     injector.UploadStatus         `json:"upload"`
}

func newScanCmd() *cobra.Command {
	var (
		src      pageSource
		criteria registry.Criteria
	)
	scanCmd := &cobra.Command{
		Use:   "scan [page.html]",
		Short: "Classify and register the form fields of a page",
		Long: `Loads a page, installs the form API on it and prints the registered fields,
the metadata slots they map to and the upload state. Filter flags narrow the
field list the way findFields does.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				src.file = args[0]
			}
			logger := observability.GetLogger().Named("scan")

			p, err := openPage(cmd.Context(), cfg, src, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			report, err := buildScanReport(p, content.New(p.inj, nil, cfg.Content, logger), criteria)
			if err != nil {
				return fmt.Errorf("scan failed: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	addPageFlags(scanCmd, &src)
	scanCmd.Flags().StringVar(&criteria.Type, "type", "", "only fields of this input type or kind")
	scanCmd.Flags().StringVar(&criteria.NameContains, "name", "", "only fields whose name contains this")
	scanCmd.Flags().StringVar(&criteria.PlaceholderContains, "placeholder", "", "only fields whose placeholder contains this")
	scanCmd.Flags().StringVar(&criteria.LabelContains, "label", "", "only fields whose label contains this")
	return scanCmd
}

func buildScanReport(p *page, o *content.Orchestrator, criteria registry.Criteria) (*scanReport, error) {
	report := &scanReport{Framework: p.inj.Framework()}
	if err := p.inj.Do(func(api *injector.PageAPI) {
		report.URL = api.Document().Location()
		if criteria == (registry.Criteria{}) {
			report.Fields = api.GetFormFields()
		} else {
			report.Fields = api.FindFields(criteria)
		}
		report.Upload = api.GetUploadStatus()
	}); err != nil {
		return nil, err
	}

	var err error
	if report.UploadPage, err = o.IsUploadPage(); err != nil {
		return nil, err
	}
	if report.Slots, err = o.DetectFields(); err != nil {
		return nil, err
	}
	return report, nil
}
