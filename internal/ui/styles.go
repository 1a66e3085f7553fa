// Package ui styles CLI output with ANSI 256 colors when the output is a
// terminal.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent = 74  // blue
	colorID     = 250 // light gray
	colorMuted  = 245 // medium gray
	colorOK     = 71  // green
	colorFail   = 167 // red
)

var noColor bool

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderEventType returns s in the accent (blue) color.
func RenderEventType(s string) string { return render(colorAccent, s) }

// RenderID returns s styled as an identifier (light gray).
func RenderID(s string) string { return render(colorID, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return render(colorMuted, s) }

// RenderOK returns s in green.
func RenderOK(s string) string { return render(colorOK, s) }

// RenderFail returns s in red.
func RenderFail(s string) string { return render(colorFail, s) }

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// SetColor enables or disables color output globally.
func SetColor(enabled bool) {
	noColor = !enabled
}
