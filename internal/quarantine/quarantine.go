// Package quarantine applies the OS-level "downloaded from the internet"
// marker to a placed file. It is best-effort: failures are never fatal to
// a successful download, only logged by the caller.
package quarantine

// Apply marks path as having been received from an untrusted network
// source, using whatever mechanism the host OS provides.
func Apply(path string) error {
	return apply(path)
}
