package ui

import "os"

// ColorScheme holds the ANSI escape codes the CLI prints with. Every field
// is empty when color output is disabled, so callers can interpolate them
// unconditionally.
type ColorScheme struct {
	Reset   string
	Bold    string
	Dim     string
	Green   string
	Yellow  string
	Magenta string
}

// Colors is the process-wide color scheme, resolved once at startup.
var Colors = initColors()

// initColors honors the NO_COLOR convention (https://no-color.org).
func initColors() ColorScheme {
	if os.Getenv("NO_COLOR") != "" {
		return ColorScheme{}
	}
	return ColorScheme{
		Reset:   "\033[0m",
		Bold:    "\033[1m",
		Dim:     "\033[2m",
		Green:   "\033[32m",
		Yellow:  "\033[33m",
		Magenta: "\033[35m",
	}
}
