//go:build !giouring
// +build !giouring

package ring

// newRingImpl selects the pure-Go minimal ring for the default build.
func newRingImpl(config Config) (Ring, error) {
	return NewMinimalRing(config)
}
