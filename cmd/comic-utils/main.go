// Comic library utilities - CLI client for the library file-service.
package main

import (
	"os"

	"github.com/allaboutduncan/comic-utils-sub000/internal/cli"
	"github.com/allaboutduncan/comic-utils-sub000/internal/version"
)

// Version information, overridable via LDFLAGS for release builds.
var (
	Version   = "v0.3.0"
	BuildTime = "2026-09-01"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
