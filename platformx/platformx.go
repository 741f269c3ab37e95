// Package platformx contains platform specific code.
package platformx

// WarnIfNotFullySupported emits a warning if the platform lacks the
// /proc/net/dev accounting used by the tx-rate admission controller.
// It reports whether the platform is fully supported.
func WarnIfNotFullySupported() bool {
	return maybeEmitWarning()
}
