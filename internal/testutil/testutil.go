// Package testutil builds synthetic detector outputs and locates the module
// root for tests.
package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// ProjectRoot walks up from this source file to the directory holding go.mod
// and checks that it is the fastdet module (it carries cmd/fastdet).
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", errors.New("failed to get caller information")
	}
	for dir := filepath.Dir(filename); ; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			if info, err := os.Stat(filepath.Join(dir, "cmd", "fastdet")); err != nil || !info.IsDir() {
				return "", fmt.Errorf("module root %s has no cmd/fastdet", dir)
			}
			return dir, nil
		}
		if parent := filepath.Dir(dir); parent == dir {
			return "", fmt.Errorf("no go.mod above %s", filepath.Dir(filename))
		}
	}
}
