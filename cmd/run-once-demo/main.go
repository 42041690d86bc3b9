// run-once-demo is a CLI wrapper around the run-once idempotency coordinator,
// backed by SQLite. It replays the canonical retry/replay/lease-expiry
// scenarios and exposes a scripting-friendly "run" command.
package main

import (
	"os"
	"runtime/debug"

	"github.com/sirvaulterscoff/run-once/internal/commands"
)

// version is set via ldflags (-X main.version=v1.0.0) or detected
// automatically from Go module info embedded by go install.
var version = "dev"

func main() {
	if version == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
