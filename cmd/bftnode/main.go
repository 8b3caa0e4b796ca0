package main

import (
	"fmt"
	"os"

	"github.com/rony4d/go-asset-bft/cmd/bftnode/launcher"
)

func main() {

	// Gather the full list of command-line arguments
	if err := launcher.Launch(os.Args); err != nil {

		// Report the issue so the operator sees it
		fmt.Fprintln(os.Stderr, "Error:", err)

		os.Exit(1)
	}
}
