package config

import (
	"embed"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

//go:embed demos
var demosFS embed.FS

// Demo loads and validates one of the embedded demo run definitions.
func Demo(name string) (*RunDef, error) {
	data, err := demosFS.ReadFile("demos/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("unknown demo run %q (have: %s)", name, strings.Join(DemoNames(), ", "))
	}
	def, err := Load(data)
	if err != nil {
		return nil, fmt.Errorf("demo run %q: %w", name, err)
	}
	if err := def.Validate(); err != nil {
		return nil, fmt.Errorf("demo run %q: %w", name, err)
	}
	return def, nil
}

// DemoNames lists the embedded demo runs in sorted order.
func DemoNames() []string {
	var names []string
	_ = fs.WalkDir(demosFS, "demos", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if filepath.Ext(path) != ".yaml" {
			return nil
		}
		names = append(names, strings.TrimSuffix(d.Name(), ".yaml"))
		return nil
	})
	sort.Strings(names)
	return names
}
