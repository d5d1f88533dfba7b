// Command kiln materializes computation graphs into verified artifacts.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/kiln/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
