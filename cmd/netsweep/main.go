// Command netsweep discovers hosts on a network and reports their open
// ports, names and hardware vendors.
package main

import (
	"github.com/anstrom/netsweep/cmd/cli"
	"github.com/anstrom/netsweep/internal/api/handlers"
)

// Build information, set via ldflags.
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

func main() {
	cli.SetVersion(version, commit, buildTime)
	handlers.SetBuildInfo(version, commit, buildTime)
	cli.Execute()
}
