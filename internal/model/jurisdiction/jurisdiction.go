package jurisdiction

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// City is a municipality with its own ordinances in the corpus.
type City struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Jurisdiction is a state whose statutes are indexed, plus the cities
// that add local rules on top of them.
type Jurisdiction struct {
	State  string `yaml:"state" json:"state"`
	Name   string `yaml:"name" json:"name"`
	Cities []City `yaml:"cities" json:"cities"`
}

//go:embed jurisdictions.yaml
var seedYAML []byte

// Seed returns the built-in catalogue.
func Seed() []Jurisdiction {
	items, err := Parse(seedYAML)
	if err != nil {
		panic(fmt.Sprintf("jurisdiction: embedded catalogue is invalid: %v", err))
	}
	return items
}

// Parse decodes a YAML catalogue.
func Parse(data []byte) ([]Jurisdiction, error) {
	var items []Jurisdiction
	if err := yaml.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("decode jurisdictions: %w", err)
	}
	for i, item := range items {
		if strings.TrimSpace(item.State) == "" {
			return nil, fmt.Errorf("jurisdiction %d: state is required", i)
		}
	}
	return items, nil
}

// HasCity reports whether the jurisdiction lists the city, by id or name.
func (j Jurisdiction) HasCity(city string) bool {
	for _, c := range j.Cities {
		if strings.EqualFold(c.ID, city) || strings.EqualFold(c.Name, city) {
			return true
		}
	}
	return false
}
