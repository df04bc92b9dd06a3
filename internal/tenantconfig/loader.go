package tenantconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// extensions are tried in order when locating a configuration file.
var extensions = []string{".json", ".yaml", ".yml"}

// locate returns the first existing file named base plus a known extension.
// It returns "" when none exists.
func locate(dir, base string) (string, error) {
	for _, ext := range extensions {
		path := filepath.Join(dir, base+ext)
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				continue
			}
			return path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return "", nil
}

func parserFor(path string) (koanf.Parser, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return json.Parser(), nil
	case ".yaml", ".yml":
		return yaml.Parser(), nil
	}
	return nil, fmt.Errorf("unsupported configuration format %q", filepath.Ext(path))
}

// loadDocument reads and parses a configuration file into its raw top-level
// map. Keys are kept verbatim: the document is not flattened, so phase and
// step names may contain any character.
func loadDocument(path string) (map[string]any, error) {
	parser, err := parserFor(path)
	if err != nil {
		return nil, err
	}
	b, err := file.Provider(path).ReadBytes()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := parser.Unmarshal(b)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if doc == nil {
		doc = make(map[string]any)
	}
	return doc, nil
}

// loadOptional locates base in dir and parses it. A missing file yields an
// empty document and an empty path.
func loadOptional(dir, base string) (map[string]any, string, error) {
	path, err := locate(dir, base)
	if err != nil {
		return nil, "", err
	}
	if path == "" {
		return map[string]any{}, "", nil
	}
	doc, err := loadDocument(path)
	if err != nil {
		return nil, path, err
	}
	return doc, path, nil
}

// Merge applies override on top of base with shallow semantics: every
// top-level key present in override replaces the base key wholesale.
// Neither input is modified.
func Merge(base, override map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(override))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}
