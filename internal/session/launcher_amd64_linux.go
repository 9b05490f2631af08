//go:build amd64 && linux

package session

// NewLauncher returns the real launcher for this platform: AMD64Launcher.
func NewLauncher() Launcher { return AMD64Launcher{} }
