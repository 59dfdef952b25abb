// internal/tui/status.go
package tui

import (
	"fmt"

	"github.com/fatih/color"

	"github.com/mwiater/qosflow/internal/loadgen"
)

var (
	successfulResult = color.New(color.FgGreen).SprintFunc()
	failedResult     = color.New(color.FgRed).SprintFunc()
	warningResult    = color.New(color.FgYellow).SprintFunc()
)

// StatusLine is a one-line coloured verdict for a finished run.
func StatusLine(s loadgen.RunSummary) string {
	counts := fmt.Sprintf("%d sent, %d ok, %d failed", s.Sent, s.Success, s.Failed)
	switch {
	case s.Interrupted:
		return warningResult("INTERRUPTED") + " run " + s.RunID + ": " + counts
	case s.Sent > 0 && s.Failed == s.Sent:
		return failedResult("FAILED") + " run " + s.RunID + ": " + counts
	case s.Failed > 0:
		return warningResult("DEGRADED") + " run " + s.RunID + ": " + counts
	default:
		return successfulResult("OK") + " run " + s.RunID + ": " + counts
	}
}

// Success formats a green status line.
func Success(format string, args ...any) string {
	return successfulResult("OK") + " " + fmt.Sprintf(format, args...)
}

// Warning formats a yellow status line.
func Warning(format string, args ...any) string {
	return warningResult("WARN") + " " + fmt.Sprintf(format, args...)
}
