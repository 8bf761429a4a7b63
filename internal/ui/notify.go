package ui

import (
	"os/exec"
	"runtime"
	"strings"
)

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// Notify raises an OS-level notification, used to pull the human back to the
// browser when a learning session starts waiting on them. Only macOS has a
// zero-dependency path (osascript); elsewhere this is a silent no-op, and a
// failed delivery is never an error.
func Notify(title, message string) {
	if runtime.GOOS != "darwin" {
		return
	}
	script := `display notification "` + appleScriptEscaper.Replace(message) +
		`" with title "` + appleScriptEscaper.Replace(title) + `"`
	_ = exec.Command("osascript", "-e", script).Run()
}
