package loader

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestDiscoverFindsImagesAndBundles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "blink.img"))
	writeFile(t, filepath.Join(dir, "nested", "sensor.eab"))
	writeFile(t, filepath.Join(dir, "README.md"))
	writeFile(t, filepath.Join(dir, "nested", "notes.txt"))

	paths, err := Discover([]string{dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 2 {
		t.Fatalf("found %v, want 2 entries", paths)
	}
	if filepath.Base(paths[0]) != "blink.img" || filepath.Base(paths[1]) != "sensor.eab" {
		t.Errorf("found %v", paths)
	}
}

func TestDiscoverSkipsMissingDirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.img"))

	paths, err := Discover([]string{filepath.Join(dir, "no-such"), dir}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 1 {
		t.Errorf("found %v", paths)
	}
}

func TestDiscoverRejectsBadPattern(t *testing.T) {
	if _, err := Discover([]string{t.TempDir()}, []string{"[bad"}); err == nil {
		t.Error("bad pattern accepted")
	}
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	full := filepath.Join(dir, "apps", "blink.img")
	writeFile(t, full)

	got, err := Resolve(full, nil)
	if err != nil || got != full {
		t.Errorf("direct path: got %q, %v", got, err)
	}

	got, err = Resolve("blink.img", []string{dir})
	if err != nil || got != full {
		t.Errorf("bare name: got %q, %v", got, err)
	}

	if _, err := Resolve("missing.img", []string{dir}); err == nil {
		t.Error("missing image resolved")
	}
}
