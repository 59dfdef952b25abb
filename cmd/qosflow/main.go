// cmd/qosflow/main.go
package main

import (
	qosflow "github.com/mwiater/qosflow/internal/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// main starts the qosflow CLI by delegating to the cobra root command.
// Build metadata is injected with -ldflags "-X main.version=...".
func main() {
	qosflow.SetVersionInfo(version, commit, date)
	qosflow.Execute()
}
