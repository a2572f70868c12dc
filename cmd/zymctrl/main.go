// Command zymctrl generates, fine-tunes and scores EC-conditioned enzyme
// sequences.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/born-ml/zymctrl/internal/pipeline"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "v0.1.0-dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := buildRootCmd(&app{})
	if err := root.ExecuteContext(ctx); err != nil {
		kind := pipeline.Classify(err)
		fmt.Fprintf(os.Stderr, "zymctrl: %s error: %v\n", kind, err)
		stop()
		os.Exit(kind.ExitCode())
	}
}
