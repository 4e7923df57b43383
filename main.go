// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/metafill/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := cmd.Execute(ctx)
	stop()
	cmd.Exit(err)
}
