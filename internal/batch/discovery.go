// Package batch expands command line arguments into tensor dump files.
package batch

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// DefaultPatterns select tensor dumps inside directories when no include
// pattern is given.
var DefaultPatterns = []string{"*.json", "*.bin", "*.raw", "*.f32"}

// Options controls directory expansion.
type Options struct {
	Recursive bool
	Include   []string
	Exclude   []string
}

// Discover expands args in order. Files are kept unless excluded; directories
// contribute their matching files in lexical order, so frames made of several
// tensors must be named to sort together.
func Discover(args []string, opts Options) ([]string, error) {
	var files []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("cannot access %s: %w", arg, err)
		}

		if info.IsDir() {
			found, err := discoverInDirectory(arg, opts)
			if err != nil {
				return nil, err
			}
			if len(found) == 0 {
				return nil, fmt.Errorf("no tensor files found in %s", arg)
			}
			files = append(files, found...)
		} else if !matchesAnyPattern(arg, opts.Exclude) {
			files = append(files, arg)
		}
	}

	return files, nil
}

func discoverInDirectory(dir string, opts Options) ([]string, error) {
	include := opts.Include
	if len(include) == 0 {
		include = DefaultPatterns
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !opts.Recursive && path != dir {
				return filepath.SkipDir
			}
			return nil
		}
		if shouldIncludeFile(path, include, opts.Exclude) {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

// shouldIncludeFile applies exclude patterns first, then include patterns.
func shouldIncludeFile(path string, includePatterns, excludePatterns []string) bool {
	if matchesAnyPattern(path, excludePatterns) {
		return false
	}
	return matchesAnyPattern(path, includePatterns)
}

// matchesAnyPattern matches the base name of path against shell patterns.
func matchesAnyPattern(path string, patterns []string) bool {
	base := filepath.Base(path)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, base); matched {
			return true
		}
	}
	return false
}
