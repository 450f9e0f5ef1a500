//go:build darwin

package quarantine

import "golang.org/x/sys/unix"

// quarantineAttr is the same extended attribute Safari and other macOS
// download clients set; Gatekeeper and Finder both key off its presence.
const quarantineAttr = "com.apple.quarantine"

func apply(path string) error {
	value := []byte("0081;00000000;dropwired;")
	return unix.Setxattr(path, quarantineAttr, value, 0)
}
