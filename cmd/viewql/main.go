// Command viewql serves GraphQL queries from database views.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/viewql/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
