package main

import (
	"fmt"
	"os"
	"strings"

	"plexus/internal/config"
)

// loadDef resolves a run definition from either a built-in demo name or a
// YAML file on disk. Exactly one source must be given. The returned bytes
// are the definition as it should be persisted next to a stored run.
func loadDef(demo, file string) (*config.RunDef, []byte, error) {
	switch {
	case demo != "" && file != "":
		return nil, nil, fmt.Errorf("--demo and --file are mutually exclusive")
	case demo != "":
		def, err := config.Demo(demo)
		if err != nil {
			return nil, nil, err
		}
		raw, err := def.Encode()
		if err != nil {
			return nil, nil, err
		}
		return def, raw, nil
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, nil, fmt.Errorf("read run definition: %w", err)
		}
		def, err := config.Load(raw)
		if err != nil {
			return nil, nil, err
		}
		if err := def.Validate(); err != nil {
			return nil, nil, fmt.Errorf("run %q: %w", def.Run, err)
		}
		return def, raw, nil
	default:
		return nil, nil, fmt.Errorf("need --demo or --file (demos: %s)", strings.Join(config.DemoNames(), ", "))
	}
}
