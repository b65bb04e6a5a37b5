package crypto

// Zero overwrites a byte slice in memory with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Zero32 zeroes a fixed-size key in place.
func Zero32(x *[32]byte) {
	for i := range x {
		x[i] = 0
	}
}
