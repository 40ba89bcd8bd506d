package notify

import (
	"os/exec"
	"runtime"
	"strings"
)

// DesktopNotifier shows run outcomes as desktop notifications
type DesktopNotifier struct {
	enabled bool
}

// NewDesktopNotifier creates a new desktop notifier
func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send sends a desktop notification
func (d *DesktopNotifier) Send(n Notification) error {
	if !d.enabled {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		return d.sendMacOS(n)
	case "linux":
		return d.sendLinux(n)
	default:
		return nil // Unsupported
	}
}

func (d *DesktopNotifier) sendMacOS(n Notification) error {
	script := `display notification "` + escapeAppleScript(n.Message) +
		`" with title "` + escapeAppleScript(n.Title) + `"`
	return exec.Command("osascript", "-e", script).Run()
}

func (d *DesktopNotifier) sendLinux(n Notification) error {
	args := []string{"-i", IconForType(n.Type)}
	if n.Type == NotifyError {
		args = append(args, "-u", "critical")
	}
	args = append(args, n.Title, n.Message)
	return exec.Command("notify-send", args...).Run()
}

func escapeAppleScript(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
}

// IconForType returns an icon name for the notification type
func IconForType(t NotificationType) string {
	if t == NotifySuccess {
		return "dialog-positive"
	}
	return "dialog-error"
}
