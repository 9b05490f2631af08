//go:build !(amd64 && linux)

package fault

// handlerAddr returns 0 (SIG_DFL) on platforms with no signal
// trampoline of their own yet: Install still reserves the disposition,
// but the kernel's default handling applies rather than chain.
func handlerAddr() uintptr { return 0 }
