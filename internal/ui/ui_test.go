package ui

import "testing"

func TestShouldUseColor(t *testing.T) {
	for _, tc := range []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"NoColor", map[string]string{"NO_COLOR": "1", "CLICOLOR_FORCE": "1"}, false},
		{"Forced", map[string]string{"CLICOLOR_FORCE": "1"}, true},
		{"Disabled", map[string]string{"CLICOLOR": "0"}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range []string{"NO_COLOR", "CLICOLOR_FORCE", "CLICOLOR"} {
				t.Setenv(k, tc.env[k])
			}
			if got := ShouldUseColor(); got != tc.want {
				t.Fatalf("ShouldUseColor() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestRenderEvent(t *testing.T) {
	prev := noColor
	t.Cleanup(func() { noColor = prev })

	noColor = false
	if got := RenderEvent("added"); got != "\x1b[38;5;114madded\x1b[0m" {
		t.Errorf("RenderEvent(added) = %q", got)
	}
	if got := RenderEvent("value"); got != RenderMuted("value") {
		t.Errorf("RenderEvent(value) = %q", got)
	}

	ForceNoColor()
	if got := RenderEvent("removed"); got != "removed" {
		t.Errorf("RenderEvent with color off = %q", got)
	}
}
