package audio

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/term"
)

type pickerKey int

const (
	keyNone pickerKey = iota
	keyUp
	keyDown
	keyConfirm
	keyCancel
)

// decodeKey maps one raw-mode read to a picker action: arrows, j/k,
// Enter, and Ctrl+C, q or Esc to cancel.
func decodeKey(b []byte) pickerKey {
	switch {
	case len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'A':
		return keyUp
	case len(b) == 3 && b[0] == 0x1b && b[1] == '[' && b[2] == 'B':
		return keyDown
	case len(b) != 1:
		return keyNone
	}
	switch b[0] {
	case '\r', '\n':
		return keyConfirm
	case 3, 'q', 0x1b:
		return keyCancel
	case 'k':
		return keyUp
	case 'j':
		return keyDown
	}
	return keyNone
}

func renderDevices(w io.Writer, devices []DeviceInfo, cursor int) {
	fmt.Fprint(w, "\r\x1b[JSelect input device (↑/↓, Enter to confirm):\r\n\r\n")
	for i, d := range devices {
		tag := ""
		if IsBluetooth(d.Name) {
			tag = " \x1b[33m[⚠ Lower audio quality]\x1b[0m"
		}
		if i == cursor {
			fmt.Fprintf(w, "  \x1b[1;36m▶ %s%s\x1b[0m\r\n", d.Name, tag)
		} else {
			fmt.Fprintf(w, "    %s%s\r\n", d.Name, tag)
		}
	}
}

// SelectDevice shows an interactive picker on the terminal. With a single
// device it returns that device without prompting. A nil device with a nil
// error means the user cancelled.
func SelectDevice() (*DeviceInfo, error) {
	devices, err := Devices()
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	switch len(devices) {
	case 0:
		return nil, ErrDeviceUnavailable
	case 1:
		return &devices[0], nil
	}

	fd := int(os.Stdin.Fd())
	saved, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, saved)

	out := os.Stdout
	cursor := 0
	renderDevices(out, devices, cursor)
	buf := make([]byte, 3)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch decodeKey(buf[:n]) {
		case keyConfirm:
			fmt.Fprint(out, "\r\n")
			return &devices[cursor], nil
		case keyCancel:
			fmt.Fprint(out, "\r\n")
			return nil, nil
		case keyUp:
			cursor = max(cursor-1, 0)
		case keyDown:
			cursor = min(cursor+1, len(devices)-1)
		}
		fmt.Fprintf(out, "\x1b[%dA", len(devices)+2)
		renderDevices(out, devices, cursor)
	}
}
