// Package mission loads the immutable mission registry: one YAML file per
// mission, carrying display metadata and the award identifiers whose
// spending the aggregation engine folds together. The engine references
// missions and never mutates them.
package mission

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mission is one mission's registry record.
type Mission struct {
	CanonicalFullName  string   `yaml:"canonical_full_name"`
	CanonicalShortName string   `yaml:"canonical_short_name"`
	Description        string   `yaml:"description"`
	Status             string   `yaml:"status"`
	ProgramLine        string   `yaml:"program_line"`
	Division           string   `yaml:"division"`
	LastUpdated        string   `yaml:"last_updated"`
	AwardIDs           []string `yaml:"award_ids"`

	// path is the file this mission was loaded from, for diagnostics.
	path string
}

// ID returns the stable mission identifier used in cache keys, artifact
// filenames, and event subjects: the short name lowered and snake_cased.
func (m *Mission) ID() string {
	return slug(m.CanonicalShortName)
}

// Name returns the display name.
func (m *Mission) Name() string { return m.CanonicalFullName }

// Path returns the registry file the mission was loaded from.
func (m *Mission) Path() string { return m.path }

// Validate checks required registry fields.
func (m *Mission) Validate() error {
	if strings.TrimSpace(m.CanonicalShortName) == "" {
		return fmt.Errorf("canonical_short_name is required")
	}
	if strings.TrimSpace(m.CanonicalFullName) == "" {
		return fmt.Errorf("canonical_full_name is required")
	}
	for i, id := range m.AwardIDs {
		if strings.TrimSpace(id) == "" {
			return fmt.Errorf("award_ids[%d] is empty", i)
		}
	}
	return nil
}

// Load reads and validates one mission file.
func Load(path string) (*Mission, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mission file %s: %w", path, err)
	}

	var m Mission
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse mission file %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mission file %s: %w", path, err)
	}
	m.path = path
	return &m, nil
}

// slug lowercases a name and collapses runs of non-alphanumerics to
// single underscores, matching the filenames the site generator expects.
func slug(name string) string {
	var b strings.Builder
	pending := false
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pending && b.Len() > 0 {
				b.WriteByte('_')
			}
			pending = false
			b.WriteRune(r)
		default:
			pending = true
		}
	}
	return b.String()
}
