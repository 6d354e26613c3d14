// Command ftlctl inspects and verifies a simulated Open-Channel SSD's
// FTL state, the way operator-registry's cmd/opm wires its root
// command into a plain main.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"ftl/cmd/ftlctl/root"
)

func main() {
	cmd := root.NewCmd()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
