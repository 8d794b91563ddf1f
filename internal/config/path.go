package config

import (
	"os"
	"path/filepath"
	"strings"
)

const appDir = "mediaflo"

// DefaultDataDir is where the pebble backend keeps its log when
// storage.data_dir is empty. Candidates, first usable wins:
// $XDG_DATA_HOME/mediaflo, /var/lib/mediaflo when writable, the
// platform's per-user data directory, ~/.mediaflo, ./data.
func DefaultDataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, appDir)
	}
	if writableDir("/var/lib") {
		return filepath.Join("/var/lib", appDir)
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "./data"
	}
	for _, d := range []struct{ parent, name string }{
		{filepath.Join(home, "Library", "Application Support"), "Mediaflo"},
		{filepath.Join(home, "AppData", "Local"), "Mediaflo"},
	} {
		if writableDir(d.parent) {
			return filepath.Join(d.parent, d.name)
		}
	}
	return filepath.Join(home, "."+appDir)
}

// ResolveDataDir returns dir with a leading ~ expanded, or DefaultDataDir
// when dir is empty.
func ResolveDataDir(dir string) string {
	dir = strings.TrimSpace(dir)
	switch {
	case dir == "":
		return DefaultDataDir()
	case dir == "~" || strings.HasPrefix(dir, "~/"):
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return dir
		}
		return filepath.Join(home, strings.TrimPrefix(dir, "~"))
	}
	return filepath.Clean(dir)
}

func writableDir(path string) bool {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return false
	}
	f, err := os.CreateTemp(path, ".mediaflo-check-*")
	if err != nil {
		return false
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true
}
