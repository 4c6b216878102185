// Command pdmsim validates and simulates channel layouts offline.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/nerrad567/pdm-core/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}
	// ExitErrors have already been written through the formatter.
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
