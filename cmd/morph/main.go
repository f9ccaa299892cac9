// Command morph runs programs that harden from interpreted to native form
// as their argument shapes stabilize.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/roach88/morph/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	os.Exit(cli.GetExitCode(err))
}
