// gitsnap turns local working-tree changes into automatic snapshot commits.
package main

import (
	"os"

	"github.com/hupe1980/gitsnap/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
