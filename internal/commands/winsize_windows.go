//go:build windows

package commands

// watchWindowSize is a no-op: Windows consoles have no SIGWINCH.
func watchWindowSize(func() (int, int, error), func(rows, cols int) error) (stop func()) {
	return func() {}
}
