// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/metafill/internal/config"
	"github.com/xkilldash9x/metafill/internal/observability"
)

type contextKey string

const configKey contextKey = "config"

// NewRootCommand builds a fresh command tree. Each call is independent, so
// tests and embedders never share flag state.
func NewRootCommand() *cobra.Command {
	var cfgFile string

	rootCmd := &cobra.Command{
		Use:           "metafill",
		Short:         "Metafill finds image metadata forms and fills them with AI generated content.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "metafill"})
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			observability.InitializeLogger(cfg.Logger)
			observability.GetLogger().Debug("Starting metafill", zap.String("version", Version))

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, configKey, cfg))
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./config.yaml or ~/.metafill/config.yaml)")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(newScanCmd(), newFillCmd(), newAnalyzeCmd(), newHostCmd(), newVersionCmd())
	return rootCmd
}

// Execute runs the command tree with ctx, which should be cancelled on
// interrupt.
func Execute(ctx context.Context) error {
	defer observability.Sync()
	rootCmd := NewRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
			fmt.Fprintln(rootCmd.ErrOrStderr(), "Error:", err)
		}
		return err
	}
	return nil
}

// getConfig returns the configuration loaded by the root command.
func getConfig(cmd *cobra.Command) (*config.Config, error) {
	if ctx := cmd.Context(); ctx != nil {
		if cfg, ok := ctx.Value(configKey).(*config.Config); ok {
			return cfg, nil
		}
	}
	return nil, errors.New("configuration not loaded")
}

// exitCode maps a command error to a process status.
func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return 0
	default:
		return 1
	}
}

// Exit terminates the process with the status for err.
func Exit(err error) { os.Exit(exitCode(err)) }
