package main

import (
	"fmt"
	"os"

	"github.com/clinicdocs/docgate/internal/storage"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorBold   = "\033[1m"
)

func colorize(color, text string) string {
	if noColor {
		return text
	}
	return color + text + colorReset
}

// Status lines go to stderr so stdout stays clean for JSON and piping.

func printSuccess(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorGreen, "✓ "+fmt.Sprintf(format, args...)))
}

func printError(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorRed, "✗ "+fmt.Sprintf(format, args...)))
}

func printWarning(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorYellow, "⚠ "+fmt.Sprintf(format, args...)))
}

func printStatus(label string, format string, args ...any) {
	fmt.Fprintf(os.Stderr, "  %s %s\n", colorize(colorBold, label+":"), fmt.Sprintf(format, args...))
}

func printStep(format string, args ...any) {
	fmt.Fprintln(os.Stderr, colorize(colorCyan, "→ "+fmt.Sprintf(format, args...)))
}

// syncStatusColor picks a color for a ledger sync status.
func syncStatusColor(status string) string {
	switch status {
	case storage.SyncCompleted:
		return colorGreen
	case storage.SyncFailed, storage.SyncUploadFailed, storage.SyncAbandoned:
		return colorRed
	case storage.SyncPending, storage.SyncProcessing:
		return colorYellow
	default:
		return colorCyan
	}
}
