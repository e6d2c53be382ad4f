// Package labels loads ordered class-name lists for detection models.
package labels

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// List maps class indices to names.
type List []string

// Name returns the name for class i, or "" when i is out of range.
func (l List) Name(i int) string {
	if i < 0 || i >= len(l) {
		return ""
	}
	return l[i]
}

// Index returns the class index for name, or -1 if absent.
func (l List) Index(name string) int {
	for i, n := range l {
		if n == name {
			return i
		}
	}
	return -1
}

type classesFile struct {
	Classes []string `toml:"classes" yaml:"classes"`
}

// Load reads a label file. The format is chosen by extension: .toml and
// .yaml/.yml expect a top-level "classes" array, anything else is read as
// one name per line with blank lines and # comments skipped.
func Load(path string) (List, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user-supplied labels file
	if err != nil {
		return nil, fmt.Errorf("failed to read labels file: %w", err)
	}
	return Parse(data, strings.ToLower(filepath.Ext(path)))
}

// Parse decodes label data in the format named by ext (".toml", ".yaml",
// ".yml" or anything else for plain text).
func Parse(data []byte, ext string) (List, error) {
	var (
		out List
		err error
	)
	switch ext {
	case ".toml":
		out, err = parseStructured(data, toml.Unmarshal)
	case ".yaml", ".yml":
		out, err = parseStructured(data, yaml.Unmarshal)
	default:
		out, err = parseText(data)
	}
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errors.New("labels file contains no classes")
	}
	return out, nil
}

func parseStructured(data []byte, unmarshal func([]byte, any) error) (List, error) {
	var f classesFile
	if err := unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse labels: %w", err)
	}
	return List(f.Classes), nil
}

func parseText(data []byte) (List, error) {
	var out List
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read labels: %w", err)
	}
	return out, nil
}

// Resolve loads path when set, otherwise returns the COCO list.
func Resolve(path string) (List, error) {
	if path == "" {
		return COCO(), nil
	}
	return Load(path)
}
