//go:build linux || darwin

package crypto

import "golang.org/x/sys/unix"

// LockBuffer pins b so it is never written to swap. Best effort: callers
// ignore the error on platforms where mlock is restricted.
func LockBuffer(b []byte) error { return unix.Mlock(b) }

func UnlockBuffer(b []byte) error { return unix.Munlock(b) }
