package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

// DiscoverSources walks root and returns every file with a supported
// extension, honoring the project's .gitignore plus the configured ignore
// list. Used by the load command's directory mode.
func DiscoverSources(root string, extractor *Extractor, ignorePatterns []string) ([]string, error) {
	var matchers []*ignore.GitIgnore

	if gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		matchers = append(matchers, gi)
	}
	if len(ignorePatterns) > 0 {
		matchers = append(matchers, ignore.CompileIgnoreLines(ignorePatterns...))
	}

	ignored := func(rel string) bool {
		for _, m := range matchers {
			if m.MatchesPath(rel) {
				return true
			}
		}
		return false
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // skip inaccessible paths
		}
		rel, err := filepath.Rel(root, path)
		if err != nil || rel == "." {
			return nil
		}

		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") || ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}

		if ignored(rel) || !extractor.Supported(path) {
			return nil
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return paths, nil
}
