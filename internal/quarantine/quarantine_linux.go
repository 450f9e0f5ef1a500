//go:build linux

package quarantine

import "golang.org/x/sys/unix"

// xdgOriginAttr mirrors the convention GNOME/KDE file managers use to flag
// downloaded files, recorded as an extended attribute rather than a
// sandboxed-app quarantine flag (Linux has no OS-wide equivalent to macOS's
// com.apple.quarantine).
const xdgOriginAttr = "user.xdg.origin.url"

func apply(path string) error {
	return unix.Setxattr(path, xdgOriginAttr, []byte("dropwired"), 0)
}
