//go:build debug

package debug

import "fmt"

// Guard assertions that cost more than a comparison with `if debug.Enabled`,
// so release builds drop them entirely.
const Enabled = true

func Assert(b bool, message string) {
	if !b {
		panic(message)
	}
}

func Assertf(b bool, format string, args ...any) {
	if !b {
		panic(fmt.Sprintf(format, args...))
	}
}
