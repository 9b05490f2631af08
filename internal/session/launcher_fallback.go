//go:build !(amd64 && linux)

package session

// NewLauncher returns DefaultLauncher on platforms with no real
// arch-specific Launcher yet.
func NewLauncher() Launcher { return DefaultLauncher{} }
