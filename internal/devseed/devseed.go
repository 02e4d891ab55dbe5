// Package devseed loads fixture records for the in-memory backend from YAML
// or JSON files.
//
//	collections:
//	  users:
//	    - id: u1
//	      email: ann@example.com
//	      name: Ann
package devseed

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Seed maps collection names to the records to insert, in file order.
type Seed struct {
	Collections map[string][]map[string]any `yaml:"collections"`
}

// Names returns the seeded collection names, sorted.
func (s Seed) Names() []string {
	names := make([]string, 0, len(s.Collections))
	for name := range s.Collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Load reads and validates a seed file.
func Load(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("devseed: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes seed content. JSON is accepted since it is valid YAML.
func Parse(data []byte) (Seed, error) {
	var seed Seed
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&seed); err != nil {
		if errors.Is(err, io.EOF) {
			return Seed{}, nil
		}
		return Seed{}, fmt.Errorf("devseed: decode: %w", err)
	}
	for name, records := range seed.Collections {
		if strings.TrimSpace(name) == "" {
			return Seed{}, fmt.Errorf("devseed: collection name is empty")
		}
		for i, rec := range records {
			if rec == nil {
				return Seed{}, fmt.Errorf("devseed: %s[%d]: record is empty", name, i)
			}
			if id, ok := rec["id"]; ok {
				if s, isString := id.(string); !isString || strings.TrimSpace(s) == "" {
					return Seed{}, fmt.Errorf("devseed: %s[%d]: id must be a non-empty string", name, i)
				}
			}
		}
	}
	return seed, nil
}
