//go:build !(amd64 && linux)

package session

import "testing"

func TestNewLauncher_IsDefaultOffAMD64Linux(t *testing.T) {
	if _, ok := NewLauncher().(DefaultLauncher); !ok {
		t.Fatalf("NewLauncher() = %T, want DefaultLauncher", NewLauncher())
	}
}
