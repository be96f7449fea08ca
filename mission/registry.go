package mission

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern matches mission files anywhere under the registry root.
const DefaultPattern = "**/*.{yaml,yml}"

// Discover returns the mission file paths under root matching pattern,
// sorted for stable batch ordering. Pattern supports doublestar globs.
func Discover(root, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	matches, err := doublestar.FilepathGlob(filepath.Join(root, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob mission files: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// LoadAll loads every mission under a path. A file argument loads that
// one mission; a directory argument discovers and loads all matches.
// Unloadable files are logged and skipped so one bad record does not
// block the rest of the registry.
func LoadAll(path, pattern string, logger *slog.Logger) ([]*Mission, error) {
	if logger == nil {
		logger = slog.Default()
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat mission path: %w", err)
	}
	if !info.IsDir() {
		m, err := Load(path)
		if err != nil {
			return nil, err
		}
		return []*Mission{m}, nil
	}

	files, err := Discover(path, pattern)
	if err != nil {
		return nil, err
	}

	missions := make([]*Mission, 0, len(files))
	for _, file := range files {
		m, err := Load(file)
		if err != nil {
			logger.Warn("skipping mission file", slog.String("path", file), slog.String("error", err.Error()))
			continue
		}
		missions = append(missions, m)
	}
	return missions, nil
}
