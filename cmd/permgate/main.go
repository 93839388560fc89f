// Command permgate decides whether coding-agent tool calls may run.
package main

import (
	"errors"
	"os"

	"github.com/Dicklesworthstone/permgate/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		cli.NewErrorWriter().Error(err)
		os.Exit(1)
	}
}
