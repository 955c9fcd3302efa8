// Package configutil loads JSON5 config files with optional uncommitted overrides.
package configutil

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/titanous/json5"
)

// layers returns `name` followed by its override file, config.json5 -> config.local.json5.
func layers(name string) []string {
	ext := filepath.Ext(name)
	return []string{name, strings.TrimSuffix(name, ext) + ".local" + ext}
}

// ReadConfig decodes `name` and then merges `<name>.local.<ext>` over it, non-zero values in
// the override win. When neither file exists the error wraps os.ErrNotExist.
func ReadConfig[T any](name string) (T, error) {
	var out T
	found := false

	for i, path := range layers(name) {
		contents, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return out, err
		}
		found = true
		if len(bytes.TrimSpace(contents)) == 0 {
			continue
		}

		var layer T
		err = json5.Unmarshal(contents, &layer)
		if err != nil {
			return out, fmt.Errorf("parse %s: %w", path, err)
		}
		err = mergo.Merge(&out, layer, mergo.WithOverride)
		if err != nil {
			return out, fmt.Errorf("merge %s: %w", path, err)
		}
		if i > 0 {
			slog.Debug("applied local config overrides", "path", path)
		}
	}

	if !found {
		return out, fmt.Errorf("read %s: %w", name, os.ErrNotExist)
	}
	return out, nil
}

// ReadRecursively calls ReadConfig in the cwd and then in every parent directory, returning
// the first config found.
func ReadRecursively[T any](name string) (T, error) {
	var zero T

	dir, err := os.Getwd()
	if err != nil {
		return zero, err
	}
	for {
		cfg, err := ReadConfig[T](filepath.Join(dir, name))
		if !errors.Is(err, os.ErrNotExist) {
			return cfg, err
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return zero, fmt.Errorf("find %s: %w", name, os.ErrNotExist)
		}
		dir = parent
	}
}
