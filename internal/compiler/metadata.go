package compiler

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Metadata is the shard-level input the compiler does not derive: titles,
// publisher identity, license, and the build timestamp. The timestamp is
// caller input, never sampled from the clock, so identical inputs compile
// to identical bytes.
type Metadata struct {
	Title     string `yaml:"title"`
	Namespace string `yaml:"namespace"`
	CreatedAt string `yaml:"created_at"`

	Publisher struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"publisher"`

	License struct {
		SPDX string `yaml:"spdx"`
	} `yaml:"license"`
}

// LoadMetadata reads and validates a metadata YAML file.
func LoadMetadata(path string) (Metadata, error) {
	var m Metadata
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, fmt.Errorf("read metadata: %w", err)
	}
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("parse metadata: %w", err)
	}
	return m, m.Validate()
}

// Validate checks the fields the manifest will require.
func (m Metadata) Validate() error {
	switch {
	case m.Title == "":
		return fmt.Errorf("metadata: title must be non-empty")
	case m.Namespace == "":
		return fmt.Errorf("metadata: namespace must be non-empty")
	case m.Publisher.ID == "":
		return fmt.Errorf("metadata: publisher.id must be non-empty")
	case m.Publisher.Name == "":
		return fmt.Errorf("metadata: publisher.name must be non-empty")
	case m.License.SPDX == "":
		return fmt.Errorf("metadata: license.spdx must be non-empty")
	}
	if m.CreatedAt == "" {
		return fmt.Errorf("metadata: created_at must be set; the timestamp is a build input")
	}
	if _, err := time.Parse(time.RFC3339, m.CreatedAt); err != nil {
		return fmt.Errorf("metadata: created_at: %w", err)
	}
	return nil
}
