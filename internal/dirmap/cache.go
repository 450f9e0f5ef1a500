// Package dirmap computes deterministic, collision-avoiding destination
// paths for received files whose sub-path has more than one component,
// remembering the suffixed directory name it chose for a given probe so
// every file under the same source directory lands in the same place.
package dirmap

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/text/unicode/norm"

	"github.com/dropwired/dropwired/internal/syncerr"
)

// maxComponentCodepoints is the per-component length cap in codepoints.
// Suffixed directory candidates trim the probe so that the probe plus its
// "(N)" suffix stays within the cap.
const maxComponentCodepoints = 255

// maxSuffixAttempts bounds the probe(1), probe(2), ... search so a
// pathologically crowded destination directory cannot loop forever.
const maxSuffixAttempts = 1000

// Cache maps a destination directory's "probe" component (the first
// component of a multi-component sub-path) to the suffixed directory name
// actually chosen on disk.
type Cache struct {
	mu     sync.Mutex
	chosen map[string]string
}

// NewCache returns an empty directory-remap cache.
func NewCache() *Cache {
	return &Cache{chosen: make(map[string]string)}
}

// ComposeFinalPath computes the destination path for subPath under destDir.
// Single-component sub-paths are ordinary files and never touch the cache.
// Multi-component sub-paths consult (or populate) the cache keyed on
// destDir/probe, searching probe, probe(1), probe(2), ... for the first
// candidate that does not already exist on disk.
func (c *Cache) ComposeFinalPath(destDir string, subPath []string) (string, error) {
	normalized, err := normalizeComponents(subPath)
	if err != nil {
		return "", err
	}

	if len(normalized) == 1 {
		return filepath.Join(destDir, normalized[0]), nil
	}

	probe := normalized[0]
	key := filepath.Join(destDir, probe)

	c.mu.Lock()
	defer c.mu.Unlock()

	chosen, ok := c.chosen[key]
	if !ok {
		chosen, err = pickAvailableName(destDir, probe)
		if err != nil {
			return "", err
		}

		c.chosen[key] = chosen
	}

	return filepath.Join(append([]string{destDir, chosen}, normalized[1:]...)...), nil
}

// RegisterPreexistingFinalPath populates the cache from a previously
// completed placement, so resuming a sibling file reuses the same chosen
// suffix. Single-component sub-paths are no-ops: they never touch the
// cache.
func (c *Cache) RegisterPreexistingFinalPath(subPath []string, fullFinalPath string) error {
	normalized, err := normalizeComponents(subPath)
	if err != nil {
		return err
	}

	k := len(normalized)
	if k < 2 {
		return nil
	}

	// Strip k-1 trailing components from the full path to land on the
	// ancestor directory that was given the chosen (possibly suffixed) name.
	ancestor := filepath.Clean(fullFinalPath)
	for i := 0; i < k-1; i++ {
		ancestor = filepath.Dir(ancestor)
	}

	leaf := filepath.Base(ancestor)
	key := filepath.Join(filepath.Dir(ancestor), normalized[0])

	c.mu.Lock()
	c.chosen[key] = leaf
	c.mu.Unlock()

	return nil
}

func pickAvailableName(destDir, probe string) (string, error) {
	for i := 0; i < maxSuffixAttempts; i++ {
		candidate := probe
		if i > 0 {
			suffix := fmt.Sprintf("(%d)", i)

			runes := []rune(probe)
			if keep := maxComponentCodepoints - len(suffix); len(runes) > keep {
				runes = runes[:keep]
			}

			candidate = string(runes) + suffix
		}

		_, err := os.Lstat(filepath.Join(destDir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		// Any non-ENOENT outcome, including a successful stat of a dangling
		// symlink, counts as "exists" and forces the next suffix.
	}

	return "", fmt.Errorf("%w: no available directory name for %q after %d attempts", syncerr.ErrStorage, probe, maxSuffixAttempts)
}

func normalizeComponents(subPath []string) ([]string, error) {
	if len(subPath) == 0 {
		return nil, fmt.Errorf("%w: empty sub-path", syncerr.ErrBadPath)
	}

	out := make([]string, len(subPath))

	for i, raw := range subPath {
		c := norm.NFC.String(raw)

		if c == "" || c == "." || c == ".." {
			return nil, fmt.Errorf("%w: forbidden path component %q", syncerr.ErrBadPath, raw)
		}

		if strings.ContainsAny(c, "/\\") {
			return nil, fmt.Errorf("%w: path separator in component %q", syncerr.ErrBadPath, raw)
		}

		c = strings.Map(func(r rune) rune {
			if r < 0x20 || r == 0x7f {
				return -1
			}

			return r
		}, c)

		runes := []rune(c)
		if len(runes) > maxComponentCodepoints {
			runes = runes[:maxComponentCodepoints]
		}

		if len(runes) == 0 {
			return nil, fmt.Errorf("%w: component %q empty after trimming forbidden characters", syncerr.ErrBadPath, raw)
		}

		out[i] = string(runes)
	}

	return out, nil
}
