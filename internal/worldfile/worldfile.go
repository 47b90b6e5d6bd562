// Package worldfile loads campaign world definitions from YAML and imports
// them through the world graph service.
//
// A world file names locations once and refers to them by name everywhere
// else, so authors never handle generated ids:
//
//	campaign: c1
//	locations:
//	  - name: Town
//	    type: town
//	    description: A sleepy market town.
//	    neighbors: [Forest]
//	    shops: [Blacksmith]
//	  - name: Forest
//	    type: forest
//	    position: {x: 300, y: 100}
//	memories:
//	  - content: The old king died without an heir.
//	    type: fact
//	    importance: 8
package worldfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// File is the top-level structure of a world file.
type File struct {
	// Campaign is the id every imported document is scoped to.
	Campaign  string        `yaml:"campaign"`
	Locations []LocationDef `yaml:"locations"`

	// Memories are seeded into the memory store. They require an embeddings
	// provider at import time.
	Memories []MemoryDef `yaml:"memories,omitempty"`
}

// LocationDef declares one location.
type LocationDef struct {
	Name        string `yaml:"name"`
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`
	Environment string `yaml:"environment,omitempty"`

	// Neighbors lists other locations of this file by name. Declaring an
	// edge on one side is enough.
	Neighbors []string `yaml:"neighbors,omitempty"`

	// Shops lists shop names placed at this location.
	Shops []string `yaml:"shops,omitempty"`

	// Position pins the location on the map. Unpinned locations are left to
	// auto-layout.
	Position *Position `yaml:"position,omitempty"`
	Icon     string    `yaml:"icon,omitempty"`
}

// Position is a map coordinate.
type Position struct {
	X int `yaml:"x"`
	Y int `yaml:"y"`
}

// MemoryDef declares one seeded memory.
type MemoryDef struct {
	Content    string   `yaml:"content"`
	Type       string   `yaml:"type"`
	Importance *float64 `yaml:"importance,omitempty"`
}

// Load reads and validates the world file at path.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("worldfile: open %q: %w", path, err)
	}
	defer f.Close()

	wf, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("worldfile: parse %q: %w", path, err)
	}
	return wf, nil
}

// LoadFromReader decodes and validates a world file from r. Unknown keys are
// rejected to catch typos.
func LoadFromReader(r io.Reader) (*File, error) {
	var wf File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&wf); err != nil {
		return nil, fmt.Errorf("worldfile: decode yaml: %w", err)
	}
	if err := Validate(&wf); err != nil {
		return nil, err
	}
	return &wf, nil
}

// Validate checks wf for structural problems and returns every failure
// found, joined.
//
// Rules:
//   - campaign must be set.
//   - Location names must be non-empty and unique (case-insensitive).
//   - Neighbors must name another location of the file.
//   - Memories must have content.
func Validate(wf *File) error {
	var errs []error

	if strings.TrimSpace(wf.Campaign) == "" {
		errs = append(errs, errors.New("campaign must not be empty"))
	}

	names := make(map[string]int, len(wf.Locations))
	for i, loc := range wf.Locations {
		key := nameKey(loc.Name)
		if key == "" {
			errs = append(errs, fmt.Errorf("locations[%d]: name must not be empty", i))
			continue
		}
		if prev, dup := names[key]; dup {
			errs = append(errs, fmt.Errorf("locations[%d]: name %q already used by locations[%d]", i, loc.Name, prev))
			continue
		}
		names[key] = i
	}

	for i, loc := range wf.Locations {
		for _, n := range loc.Neighbors {
			switch _, ok := names[nameKey(n)]; {
			case nameKey(n) == nameKey(loc.Name):
				errs = append(errs, fmt.Errorf("locations[%d]: %q lists itself as a neighbor", i, loc.Name))
			case !ok:
				errs = append(errs, fmt.Errorf("locations[%d]: unknown neighbor %q", i, n))
			}
		}
		for j, shop := range loc.Shops {
			if strings.TrimSpace(shop) == "" {
				errs = append(errs, fmt.Errorf("locations[%d].shops[%d]: name must not be empty", i, j))
			}
		}
	}

	for i, m := range wf.Memories {
		if strings.TrimSpace(m.Content) == "" {
			errs = append(errs, fmt.Errorf("memories[%d]: content must not be empty", i))
		}
	}

	return errors.Join(errs...)
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
