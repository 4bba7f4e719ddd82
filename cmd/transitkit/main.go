package main

import (
	"context"
	"os"

	"github.com/dmitrymomot/transitkit/internal/cli"
)

func main() {
	root := cli.NewRootCommand()
	if err := root.ExecuteContext(context.Background()); err != nil {
		format, _ := root.PersistentFlags().GetString("format")
		cli.PrintError(format, root.ErrOrStderr(), err)
		os.Exit(cli.GetExitCode(err))
	}
}
