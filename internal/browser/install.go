package browser

import (
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
)

// ListInstallDir logs every entry under root. It is a debugging aid for engine images
// and never fails: a missing or unreadable directory is only logged.
func ListInstallDir(root string) int {
	slog.Info("listing engine install directory.", slog.String("dir", root))
	found := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			slog.Debug("skipping unreadable entry.", slog.String("path", path), slog.String("err", err.Error()))
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if path == root {
			return nil
		}
		rel, _ := filepath.Rel(root, path)
		depth := strings.Count(rel, string(filepath.Separator))
		slog.Info(strings.Repeat("  ", depth)+"found.", slog.String("path", path))
		found++
		return nil
	})
	if err != nil {
		slog.Warn("failed to list install directory.", slog.String("dir", root), slog.String("err", err.Error()))
	}

	return found
}
