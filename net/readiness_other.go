//go:build !unix

package net

import "syscall"

// pollReadable is unsupported here; callers fall back to a short peek.
func pollReadable(syscall.Conn) (Readiness, bool, error) {
	return NotReady, false, nil
}
