package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is wrapped by every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// ApplyDefaults fills optional fields that have a documented default.
func (s *Simulation) ApplyDefaults() {
	if s.Distribution == "" {
		s.Distribution = DistributionUniform
	}
}

// Validate checks that the simulation is well formed and logically consistent.
func (s Simulation) Validate() error {
	if s.N < 1 {
		return invalid("n must be at least 1, got %d", s.N)
	}
	if s.N > MaxMatrixSize {
		return invalid("n must be at most %d, got %d", MaxMatrixSize, s.N)
	}
	if s.Trials < 1 {
		return invalid("trials must be at least 1, got %d", s.Trials)
	}
	if err := unitInterval("alpha_min", s.AlphaMin); err != nil {
		return err
	}
	if err := unitInterval("alpha_max", s.AlphaMax); err != nil {
		return err
	}
	if s.AlphaMin > s.AlphaMax {
		return invalid("alpha_min (%g) must not exceed alpha_max (%g)", s.AlphaMin, s.AlphaMax)
	}
	if err := unitInterval("beta1", s.Beta1); err != nil {
		return err
	}
	if err := unitInterval("beta2", s.Beta2); err != nil {
		return err
	}
	if s.Beta1 > s.Beta2 {
		return invalid("beta1 (%g) must not exceed beta2 (%g)", s.Beta1, s.Beta2)
	}

	switch s.Distribution {
	case DistributionUniform, DistributionConcentrated:
	default:
		return invalid("distribution must be uniform or concentrated, got %q", s.Distribution)
	}

	if s.Ripening.Enabled {
		if s.Ripening.V < 1 || s.Ripening.V > s.N {
			return invalid("ripening.v must be in [1, n=%d], got %d", s.N, s.Ripening.V)
		}
		if !(s.Ripening.BetaMax >= 1) {
			return invalid("ripening.beta_max must be at least 1, got %g", s.Ripening.BetaMax)
		}
	}

	if s.HybridSwitch < 0 {
		return invalid("hybrid_switch cannot be negative, got %d", s.HybridSwitch)
	}
	if s.Workers < 0 {
		return invalid("workers cannot be negative, got %d", s.Workers)
	}
	return nil
}

func unitInterval(name string, v float64) error {
	// Written as a negated range test so NaN is rejected too.
	if !(v >= 0 && v <= 1) {
		return invalid("%s must be in [0, 1], got %g", name, v)
	}
	return nil
}

func validateServer(s *Server) error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[s.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", s.LogLevel)
	}
	if s.LogFormat != "json" && s.LogFormat != "text" {
		return fmt.Errorf("invalid log_format: %s (must be json or text)", s.LogFormat)
	}
	if s.HTTPAddr == "" && s.GRPCAddr == "" {
		return fmt.Errorf("at least one of http_addr or grpc_addr must be set")
	}
	if _, err := s.GetHistoryRetention(); err != nil {
		return fmt.Errorf("invalid history_retention %s: %w", s.HistoryRetention, err)
	}
	return nil
}
