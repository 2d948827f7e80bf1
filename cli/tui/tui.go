package tui

import (
	"github.com/charmbracelet/bubbles/key"
)

// View types with TUI support.
const (
	ViewCopy   = "copy"
	ViewWipe   = "wipe"
	ViewImage  = "imagedisk"
	ViewReport = "report"
)

// IsTUISupported returns true if the view type supports TUI mode.
func IsTUISupported(viewType string) bool {
	for _, v := range SupportedTUIViews() {
		if v == viewType {
			return true
		}
	}
	return false
}

// SupportedTUIViews returns a list of view types that support TUI.
func SupportedTUIViews() []string {
	return []string{ViewCopy, ViewWipe, ViewImage, ViewReport}
}

// keyMap defines key bindings.
type keyMap struct {
	Quit key.Binding
}

var keys = keyMap{
	Quit: key.NewBinding(
		key.WithKeys("q", "ctrl+c"),
		key.WithHelp("q", "quit"),
	),
}
