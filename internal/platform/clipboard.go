package platform

import "time"

// Clipboard puts sensitive text (the backup key, mainly) on the system
// clipboard with a time-to-live after which it should be cleared.
type Clipboard interface {
	Set(text string, ttl time.Duration) error
}

type noopClipboard struct{}

func (noopClipboard) Set(string, time.Duration) error { return nil }

// NewClipboard returns the platform clipboard. Headless builds get a no-op.
func NewClipboard() Clipboard { return noopClipboard{} }
