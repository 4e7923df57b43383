// File: cmd/host.go
package cmd

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/metafill/internal/observability"
)

func newHostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "host",
		Short: "Serve the background request channel on stdin and stdout",
		Long: `Runs the background realm as a message host. Each line on stdin is a JSON
frame {"id": ..., "message": {"action": ..., ...}}; each reply is written to
stdout as {"id": ..., "reply": {...}}. The inference server is health checked
periodically while the host runs. The host exits when stdin closes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("host")
			ctl, router, err := newBackground(cfg, logger)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			// The stream read blocks on stdin, so it is not tied to the group:
			// an interrupt returns without waiting for the next line.
			served := make(chan error, 1)
			go func() { served <- router.ServeStream(ctx, cmd.InOrStdin(), cmd.OutOrStdout()) }()

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error { return ctl.Run(gctx) })
			g.Go(func() error {
				defer cancel()
				select {
				case err := <-served:
					return err
				case <-gctx.Done():
					return nil
				}
			})

			logger.Info("Message host started", zap.Strings("actions", router.Actions()))
			err = g.Wait()
			logger.Info("Message host stopped")
			return err
		},
	}
}
