// Package ui styles CLI output with ANSI colors.
package ui

import "fmt"

// ANSI256 color codes.
const (
	colorAccent  = 74  // blue
	colorCmd     = 250 // light gray
	colorMuted   = 245 // medium gray
	colorAdded   = 114 // green
	colorChanged = 179 // amber
	colorRemoved = 167 // red
)

var noColor = !ShouldUseColor()

func paint(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string { return paint(colorAccent, s) }

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string { return paint(colorMuted, s) }

// RenderCommand returns s styled as a command name.
func RenderCommand(s string) string { return paint(colorCmd, s) }

// RenderEvent colors a record event name: added, changed or removed.
// Other names are returned muted.
func RenderEvent(event string) string {
	switch event {
	case "added":
		return paint(colorAdded, event)
	case "changed":
		return paint(colorChanged, event)
	case "removed":
		return paint(colorRemoved, event)
	}
	return RenderMuted(event)
}

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

// Enabled reports whether output is colored.
func Enabled() bool { return !noColor }
