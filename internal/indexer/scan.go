// Package indexer orchestrates the indexing pipeline: scan the notes
// directory, parse and chunk each file, batch-embed the chunks, and persist
// documents/chunks/tags/backlinks plus the vector index. Grounded on the
// teacher's internal/scanner.shouldExcludeFile glob/suffix matching (§4.6):
// suffix match for "*.ext" patterns; otherwise a filepath.Match glob against
// the relative path or the base name, plus a path-segment match for
// "**/name/**"-style directory patterns.
package indexer

import (
	"io/fs"
	"path/filepath"
	"strings"
)

var noteExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// scanFiles walks root and returns the relative paths (using "/" separators)
// of every Markdown file not matched by an exclude pattern.
func scanFiles(root string, excludeGlobs []string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !noteExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		if matchesAnyExclude(rel, excludeGlobs) {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// matchesAnyExclude reports whether relPath matches any exclude pattern: a
// suffix match for "*.ext" patterns, a glob match (against the full relative
// path and against the base name) otherwise.
func matchesAnyExclude(relPath string, patterns []string) bool {
	base := filepath.Base(relPath)
	for _, pattern := range patterns {
		if strings.HasPrefix(pattern, "*.") {
			if strings.HasSuffix(relPath, pattern[1:]) {
				return true
			}
			continue
		}
		if ok, _ := filepath.Match(pattern, relPath); ok {
			return true
		}
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
		// "**/name/**"-style directory patterns: treat as a plain substring
		// of path segments, since filepath.Match has no "**" support.
		trimmed := strings.Trim(pattern, "*/")
		if trimmed != "" {
			for _, seg := range strings.Split(relPath, "/") {
				if seg == trimmed {
					return true
				}
			}
		}
	}
	return false
}
