package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
)

// DefaultPatterns match the two forms images are stored in on disk.
var DefaultPatterns = []string{"**/*.img", "**/*" + BundleExt}

// Discover walks the image directories and returns every file whose
// path relative to its directory matches one of the glob patterns.
// Directories that do not exist are skipped; the result is sorted so
// boot-time installation order is stable.
func Discover(dirs, patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return nil, fmt.Errorf("bad image pattern %q", pat)
		}
	}

	var (
		mu    sync.Mutex
		found []string
	)
	conf := fastwalk.Config{Follow: false}
	for _, dir := range dirs {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			continue
		}
		root := dir
		err := fastwalk.Walk(&conf, root, func(p string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(root, p)
			if err != nil {
				return nil
			}
			rel = filepath.ToSlash(rel)
			for _, pat := range patterns {
				if ok, _ := doublestar.Match(pat, rel); ok {
					mu.Lock()
					found = append(found, p)
					mu.Unlock()
					return nil
				}
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", dir, err)
		}
	}
	sort.Strings(found)
	return found, nil
}

// Resolve finds the file for an image reference from board
// configuration: a path with a separator or an existing file is used
// as-is, a bare name is looked up by basename in the image
// directories.
func Resolve(ref string, dirs []string) (string, error) {
	if _, err := os.Stat(ref); err == nil {
		return ref, nil
	}
	if filepath.Base(ref) != ref {
		return "", fmt.Errorf("image %q not found", ref)
	}
	paths, err := Discover(dirs, nil)
	if err != nil {
		return "", err
	}
	for _, p := range paths {
		if filepath.Base(p) == ref {
			return p, nil
		}
	}
	return "", fmt.Errorf("image %q not found in %v", ref, dirs)
}
