package main

import (
	"os"

	"github.com/dsprint/dsprint/cmd/dsprint/cmds"
	"github.com/dsprint/dsprint/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.DSPrintVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
