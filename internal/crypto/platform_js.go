//go:build js

package crypto

// Browser builds have no access to a secure key store, so challenge signing is
// disabled there rather than silently downgraded.
const signingSupported = false
