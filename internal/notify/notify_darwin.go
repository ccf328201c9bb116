//go:build darwin

package notify

import (
	"fmt"
	"os/exec"
	"strings"
)

// osascriptNotifier posts notices through the system AppleScript runner.
// Notification Center attributes them to Script Editor, which is the
// accepted cost of not requiring a signed app bundle.
type osascriptNotifier struct{}

func newPlatformNotifier() Notifier {
	return osascriptNotifier{}
}

func (osascriptNotifier) Send(summary, body string) error {
	script := fmt.Sprintf("display notification %s with title %s",
		appleScriptString(body), appleScriptString(summary))

	out, err := exec.Command("osascript", "-e", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("osascript: %v: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

// appleScriptString quotes s as an AppleScript string literal.
func appleScriptString(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

func (osascriptNotifier) Available() (bool, string) {
	if _, err := exec.LookPath("osascript"); err != nil {
		return false, "osascript not found"
	}
	return true, "osascript"
}

func (osascriptNotifier) Close() error { return nil }

var _ Notifier = osascriptNotifier{}
