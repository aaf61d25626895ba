//go:build windows

package terminal

import "errors"

// ConPTY is not wired up yet; creack/pty's Windows support is unreleased.
func openPTY(Command, Size) (Handle, error) {
	return nil, opError("open", "", ErrPTY, errors.ErrUnsupported)
}

func probePTY() error {
	return opError("probe", "", ErrPTY, errors.ErrUnsupported)
}
