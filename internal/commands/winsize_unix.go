//go:build !windows

package commands

import (
	"os"
	"os/signal"
	"syscall"
)

// watchWindowSize calls resize with the current size every time the
// controlling terminal changes size, until the returned stop func is called.
func watchWindowSize(size func() (cols, rows int, err error), resize func(rows, cols int) error) (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGWINCH)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ch:
				if cols, rows, err := size(); err == nil {
					_ = resize(rows, cols)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}
