package config

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/zeebo/xxh3"
	"gopkg.in/yaml.v3"
)

// ParseSimulationYAML parses a Simulation from YAML bytes, applies defaults and validates it.
// Unknown keys are rejected so that a misspelt parameter cannot silently fall back to zero.
func ParseSimulationYAML(data []byte) (*Simulation, error) {
	var sim Simulation
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sim); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse simulation yaml: %w", ErrInvalidConfig, err)
	}

	sim.ApplyDefaults()
	if err := sim.Validate(); err != nil {
		return nil, err
	}
	return &sim, nil
}

// ParseSimulationYAMLString parses a Simulation from a YAML string and validates it.
func ParseSimulationYAMLString(yamlText string) (*Simulation, error) {
	return ParseSimulationYAML([]byte(yamlText))
}

// ParseServerYAML parses a Server config from YAML bytes on top of DefaultServer.
func ParseServerYAML(data []byte) (*Server, error) {
	cfg := DefaultServer()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse server yaml: %w", err)
	}
	if err := validateServer(&cfg); err != nil {
		return nil, fmt.Errorf("invalid server config: %w", err)
	}
	return &cfg, nil
}

// Fingerprint identifies the configuration independently of process memory.
// Two simulations with the same fingerprint draw the same matrices for the
// same seed. Workers is excluded because it never changes results.
func (s Simulation) Fingerprint() string {
	s.Workers = 0
	data, err := yaml.Marshal(s)
	if err != nil {
		// Simulation has only scalar fields; Marshal cannot fail.
		panic(fmt.Sprintf("config: marshal simulation: %v", err))
	}
	sum := xxh3.Hash128(data).Bytes()
	return hex.EncodeToString(sum[:])
}

// YAML returns the canonical YAML encoding of s.
func (s Simulation) YAML() string {
	data, err := yaml.Marshal(s)
	if err != nil {
		return ""
	}
	return string(data)
}
