//go:build !debug

// Package debug provides driver invariant checks that are compiled in with the
// debug build tag and are no-ops otherwise.
//
// Violations panic. They mark caller bugs such as a zero block size or an
// oversized transfer, never card or controller faults, which are reported as
// errors.
package debug

// Guard assertions that cost more than a comparison with `if debug.Enabled`,
// so release builds drop them entirely.
const Enabled = false

// Assert panics with message if b is false.
func Assert(b bool, message string) {}

// Assertf is Assert with a formatted message.
func Assertf(b bool, format string, args ...any) {}
