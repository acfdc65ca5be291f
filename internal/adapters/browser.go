package adapters

import "github.com/go-rod/rod/lib/launcher"

// newStealthLauncher configures a headless Chrome launcher with the
// anti-detection flag the stealth package expects, matching the browser
// manager's launch configuration for headless-only use.
func newStealthLauncher() *launcher.Launcher {
	return launcher.New().
		Headless(true).
		Set("disable-blink-features", "AutomationControlled")
}
