package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"nexus/internal/game"

	"gopkg.in/yaml.v3"
)

// LoadPolicy overlays the YAML file at path on the default policy. An empty
// path returns the defaults. Unknown keys are rejected so typos do not pass
// silently.
func LoadPolicy(path string) (game.Policy, error) {
	p := game.DefaultPolicy()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("read policy file: %w", err)
	}
	return ParsePolicy(data)
}

func ParsePolicy(data []byte) (game.Policy, error) {
	p := game.DefaultPolicy()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil && !errors.Is(err, io.EOF) {
		return p, fmt.Errorf("parse policy: %w", err)
	}
	if err := p.Validate(); err != nil {
		return p, fmt.Errorf("invalid policy: %w", err)
	}
	return p, nil
}
