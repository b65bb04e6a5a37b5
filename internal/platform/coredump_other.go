//go:build !linux && !darwin

package platform

// DisableCoreDumps is a no-op where the platform has no rlimit interface.
func DisableCoreDumps() error { return nil }
