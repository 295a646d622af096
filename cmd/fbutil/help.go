package main

import (
	"bytes"
	"fmt"
	"regexp"

	"github.com/spf13/cobra"

	"github.com/Krajiyah/firebase-admin-util/internal/ui"
)

// helpRule restyles one part of cobra's plain help text. Groups select the
// styled span: the first group is kept, the second is painted.
type helpRule struct {
	re    *regexp.Regexp
	paint func(string) string
}

var helpRules = []helpRule{
	// Section headers such as "Records:" or "Flags:".
	{regexp.MustCompile(`(?m)^()([A-Z][^\n]*:)\s*$`), ui.RenderAccent},
	// Command names in the command lists.
	{regexp.MustCompile(`(?m)^(  )(\S+)  `), ui.RenderCommand},
	// Flag value types.
	{regexp.MustCompile(`(--?\S+\s+)(string|int|float|duration|stringSlice|strings)\b`), ui.RenderMuted},
	// Defaults.
	{regexp.MustCompile(`()(\(default [^)]*\))`), ui.RenderMuted},
}

// colorizedHelpFunc returns a cobra help function that colors the default
// help output when stdout supports it.
func colorizedHelpFunc() func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		if !ui.Enabled() {
			_ = cmd.Usage()
			return
		}
		orig := cmd.OutOrStdout()
		var buf bytes.Buffer
		cmd.SetOut(&buf)
		_ = cmd.Usage()
		cmd.SetOut(orig)
		fmt.Fprint(orig, colorizeHelp(buf.String()))
	}
}

func colorizeHelp(s string) string {
	for _, r := range helpRules {
		s = r.re.ReplaceAllStringFunc(s, func(match string) string {
			m := r.re.FindStringSubmatch(match)
			rest := match[len(m[1])+len(m[2]):]
			return m[1] + r.paint(m[2]) + rest
		})
	}
	return s
}
