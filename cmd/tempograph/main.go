// Command tempograph is the CLI for the tempograph store.
package main

import (
	"os"

	"github.com/roach88/tempograph/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
