package review

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

//go:embed bank.yaml
var defaultBankYAML []byte

// Bank is the static question framework: pillars plus the questions grouped
// under them.
type Bank struct {
	Pillars   []Pillar   `yaml:"pillars"`
	Questions []Question `yaml:"questions"`
}

// DefaultBank returns the framework embedded in the binary.
func DefaultBank() (*Bank, error) {
	return ParseBank(defaultBankYAML)
}

// ParseBank decodes and validates a YAML question bank.
func ParseBank(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to parse question bank: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return &b, nil
}

// Validate checks referential integrity of the bank: unique question keys,
// unique pillar names, and every question bound to a declared pillar.
func (b *Bank) Validate() error {
	if len(b.Questions) == 0 {
		return fmt.Errorf("question bank is empty")
	}
	pillars := make(map[string]bool, len(b.Pillars))
	for _, p := range b.Pillars {
		if p.Name == "" {
			return fmt.Errorf("pillar with empty name")
		}
		if pillars[p.Name] {
			return fmt.Errorf("duplicate pillar %q", p.Name)
		}
		pillars[p.Name] = true
	}
	keys := make(map[string]bool, len(b.Questions))
	for _, q := range b.Questions {
		if q.Key == "" {
			return fmt.Errorf("question with empty key")
		}
		if keys[q.Key] {
			return fmt.Errorf("duplicate question key %q", q.Key)
		}
		keys[q.Key] = true
		if q.Text == "" {
			return fmt.Errorf("question %s has no text", q.Key)
		}
		if !pillars[q.Pillar] {
			return fmt.Errorf("question %s references unknown pillar %q", q.Key, q.Pillar)
		}
	}
	return nil
}
