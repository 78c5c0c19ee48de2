package main

import (
	"fmt"
	"os"

	"github.com/fieldsense/alertd/cmd"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := cmd.RootCommand(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
