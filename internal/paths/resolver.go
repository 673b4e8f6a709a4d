// Package paths resolves the named document roots used on the ingest
// command line. A config entry such as
//
//	paths:
//	  docs: ~/notes
//
// lets "ragent ingest docs:care.md" read ~/notes/care.md.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Resolver maps root names to directories. A nil *Resolver resolves
// every path to itself after home expansion.
type Resolver struct {
	roots map[string]string // "docs" -> "/home/me/notes"
}

// New builds a Resolver from name→directory pairs. Directory values
// have a leading ~ expanded. It returns nil when roots is empty.
func New(roots map[string]string) *Resolver {
	if len(roots) == 0 {
		return nil
	}
	m := make(map[string]string, len(roots))
	for name, dir := range roots {
		m[strings.TrimSuffix(name, ":")] = ExpandHome(dir)
	}
	return &Resolver{roots: m}
}

// Resolve expands "name:rel" to a path under the named root. Paths
// without a colon, and Windows-style drive letters, are returned with
// only home expansion applied. An unknown root name is an error so a
// typo does not silently read from the working directory.
func (r *Resolver) Resolve(path string) (string, error) {
	name, rel, ok := strings.Cut(path, ":")
	if !ok || len(name) <= 1 || strings.ContainsAny(name, `/\`) {
		return ExpandHome(path), nil
	}
	if r == nil {
		return "", fmt.Errorf("unknown path root %q", name)
	}
	base, found := r.roots[name]
	if !found {
		return "", fmt.Errorf("unknown path root %q (known: %s)", name, strings.Join(r.Names(), ", "))
	}
	rel = strings.TrimLeft(rel, `/\`)
	if rel == "" {
		return base, nil
	}
	joined := filepath.Join(base, rel)
	if !strings.HasPrefix(joined, filepath.Clean(base)+string(filepath.Separator)) && joined != filepath.Clean(base) {
		return "", fmt.Errorf("path %q escapes root %q", path, name)
	}
	return joined, nil
}

// Names returns the configured root names in sorted order.
func (r *Resolver) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.roots))
	for name := range r.roots {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") || strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return filepath.Join(home, path[2:])
	}
	return path
}
