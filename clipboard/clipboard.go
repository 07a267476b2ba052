// Package clipboard copies share links to the system clipboard.
package clipboard

import (
	"errors"

	cb "github.com/atotto/clipboard"
)

// ErrUnavailable is returned when no clipboard utility is installed
// (xclip, xsel or wl-clipboard on Linux).
var ErrUnavailable = errors.New("clipboard: no clipboard utility available")

func Available() bool { return !cb.Unsupported }

func Read() (string, error) {
	if !Available() {
		return "", ErrUnavailable
	}
	return cb.ReadAll()
}

func Copy(text string) error {
	if !Available() {
		return ErrUnavailable
	}
	return cb.WriteAll(text)
}
