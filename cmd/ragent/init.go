package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/nugget/ragent/examples"
)

// runInit prepares dir as a ragent working directory: the example
// config, a docs root with a starter document, and an index directory.
// Existing files are never overwritten.
func runInit(w io.Writer, dir string) error {
	fmt.Fprintf(w, "Initializing ragent workspace in %s\n", dir)

	for _, sub := range []string{"docs", "index"} {
		path := filepath.Join(dir, sub)
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
	}

	files := []struct {
		path    string
		content []byte
		perm    os.FileMode
	}{
		// The config may end up holding API keys.
		{filepath.Join(dir, "config.yaml"), examples.ConfigYAML, 0o600},
		{filepath.Join(dir, "docs", "welcome.md"), examples.WelcomeMD, 0o644},
	}
	for _, f := range files {
		wrote, err := writeIfMissing(f.path, f.content, f.perm)
		if err != nil {
			return err
		}
		mark := "✓"
		if !wrote {
			mark = "="
		}
		fmt.Fprintf(w, "  %s %s\n", mark, f.path)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Start ragent-tools, then run \"ragent ingest docs:welcome.md\" from this directory.")
	return nil
}

// writeIfMissing writes content to path unless the file already exists.
func writeIfMissing(path string, content []byte, perm os.FileMode) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	}
	if err := os.WriteFile(path, content, perm); err != nil {
		return false, fmt.Errorf("write %s: %w", path, err)
	}
	return true, nil
}
