package pathutil

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StampLayout is the timestamp prefix used for log files and reports
// (yymmdd_HHMMSS).
const StampLayout = "060102_150405"

// ExpandHome expands a leading ~/ to the user's home directory.
// Paths like ~otheruser/... are returned unchanged since we cannot
// reliably resolve other users' home directories.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~/") && path != "~" {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	return filepath.Join(home, path[2:])
}

// Stamp formats t with StampLayout.
func Stamp(t time.Time) string {
	return t.Format(StampLayout)
}

// BaseName returns the last element of a path, accepting both slash
// and backslash separators so Windows-style paths in maintenance files
// still produce a usable name.
func BaseName(path string) string {
	path = strings.ReplaceAll(path, `\`, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Stamped joins dir with "<stamp>_<name><ext>".
func Stamped(dir, name, ext string, t time.Time) string {
	return filepath.Join(dir, Stamp(t)+"_"+name+ext)
}
