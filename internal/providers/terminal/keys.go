package terminal

import (
	"fmt"
	"sort"
	"strings"
)

// keyTable maps logical key names to the bytes a VT100/xterm-compatible
// terminal sends for them. It is never mutated after init.
var keyTable = map[string][]byte{
	"ctrl_a":    {0x01},
	"ctrl_c":    {0x03},
	"ctrl_d":    {0x04},
	"ctrl_e":    {0x05},
	"ctrl_l":    {0x0C},
	"ctrl_r":    {0x12},
	"ctrl_u":    {0x15},
	"ctrl_w":    {0x17},
	"ctrl_z":    {0x1A},
	"enter":     {0x0D},
	"tab":       {0x09},
	"escape":    {0x1B},
	"backspace": {0x7F},
	"space":     {0x20},

	"up":       []byte("\x1b[A"),
	"down":     []byte("\x1b[B"),
	"right":    []byte("\x1b[C"),
	"left":     []byte("\x1b[D"),
	"home":     []byte("\x1b[H"),
	"end":      []byte("\x1b[F"),
	"insert":   []byte("\x1b[2~"),
	"delete":   []byte("\x1b[3~"),
	"pageup":   []byte("\x1b[5~"),
	"pagedown": []byte("\x1b[6~"),

	"f1":  []byte("\x1b[11~"),
	"f2":  []byte("\x1b[12~"),
	"f3":  []byte("\x1b[13~"),
	"f4":  []byte("\x1b[14~"),
	"f5":  []byte("\x1b[15~"),
	"f6":  []byte("\x1b[17~"),
	"f7":  []byte("\x1b[18~"),
	"f8":  []byte("\x1b[19~"),
	"f9":  []byte("\x1b[20~"),
	"f10": []byte("\x1b[21~"),
	"f11": []byte("\x1b[23~"),
	"f12": []byte("\x1b[24~"),
}

// EncodeKey returns the raw byte sequence for a key name. Names are matched
// case-insensitively and accept '-' in place of '_' ("Ctrl-C" == "ctrl_c").
func EncodeKey(name string) ([]byte, error) {
	seq, ok := keyTable[normalizeKey(name)]
	if !ok {
		return nil, opError("send_key", "", ErrInvalidKey, fmt.Errorf("unknown key %q", name))
	}
	out := make([]byte, len(seq))
	copy(out, seq)
	return out, nil
}

// KeyNames lists every supported key name in sorted order.
func KeyNames() []string {
	names := make([]string, 0, len(keyTable))
	for name := range keyTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeKey(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}
