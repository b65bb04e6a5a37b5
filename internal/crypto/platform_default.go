//go:build !js

package crypto

const signingSupported = true
