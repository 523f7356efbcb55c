package config

import (
	"fmt"
	"os"
)

// LoadSimulation loads and parses a simulation file
func LoadSimulation(path string) (*Simulation, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read simulation file %s: %w", path, err)
	}
	sim, err := ParseSimulationYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse simulation file %s: %w", path, err)
	}
	return sim, nil
}

// LoadServer loads and parses a daemon configuration file
func LoadServer(path string) (*Server, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read server config %s: %w", path, err)
	}
	cfg, err := ParseServerYAML(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse server config %s: %w", path, err)
	}
	return cfg, nil
}
