package config

import "time"

// Distribution selects the sampling law for the initial quality of each batch.
type Distribution string

const (
	DistributionUniform      Distribution = "uniform"
	DistributionConcentrated Distribution = "concentrated"
)

// MaxMatrixSize bounds n so a single trial cannot exhaust memory.
const MaxMatrixSize = 4096

// Ripening configures the early-column growth phase of the generator.
type Ripening struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	V       int     `yaml:"v" json:"v"`
	BetaMax float64 `yaml:"beta_max" json:"beta_max"`
}

// Simulation is the immutable parameter set of one simulation run.
// It is a comparable value: two runs share a configuration iff their
// Simulation values are equal (see Fingerprint for the portable form).
type Simulation struct {
	N             int          `yaml:"n" json:"n"`
	Trials        int          `yaml:"trials" json:"trials"`
	AlphaMin      float64      `yaml:"alpha_min" json:"alpha_min"`
	AlphaMax      float64      `yaml:"alpha_max" json:"alpha_max"`
	Beta1         float64      `yaml:"beta1" json:"beta1"`
	Beta2         float64      `yaml:"beta2" json:"beta2"`
	Distribution  Distribution `yaml:"distribution" json:"distribution"`
	Ripening      Ripening     `yaml:"ripening" json:"ripening"`
	InorganicLoss bool         `yaml:"inorganic_loss" json:"inorganic_loss"`

	// HybridSwitch is the column at which the two hybrid heuristics change
	// rule. Zero means "use ripening.v when ripening is enabled, else 0".
	HybridSwitch int `yaml:"hybrid_switch,omitempty" json:"hybrid_switch,omitempty"`

	// Seed fixes the random draws; zero picks a seed when the run starts.
	Seed int64 `yaml:"seed,omitempty" json:"seed,omitempty"`

	// Workers > 1 evaluates trials in parallel batches. It never changes results.
	Workers int `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// SwitchColumn resolves the column at which the hybrid heuristics change rule.
func (s Simulation) SwitchColumn() int {
	if s.HybridSwitch > 0 {
		return s.HybridSwitch
	}
	if s.Ripening.Enabled {
		return s.Ripening.V
	}
	return 0
}

// ProgressInterval is the number of trials between progress notifications.
func (s Simulation) ProgressInterval() int {
	if iv := s.Trials / 100; iv > 1 {
		return iv
	}
	return 1
}

// Server is the configuration of the simd daemon.
type Server struct {
	LogLevel         string `yaml:"log_level"`
	LogFormat        string `yaml:"log_format"`
	GRPCAddr         string `yaml:"grpc_addr"`
	HTTPAddr         string `yaml:"http_addr"`
	HistoryDB        string `yaml:"history_db"`
	HistoryRetention string `yaml:"history_retention"`
	MetricsNamespace string `yaml:"metrics_namespace"`
	CallbackURL      string `yaml:"callback_url,omitempty"`
	CallbackSecret   string `yaml:"callback_secret,omitempty"`
}

// DefaultServer returns the daemon defaults.
func DefaultServer() Server {
	return Server{
		LogLevel:         "info",
		LogFormat:        "json",
		GRPCAddr:         ":50051",
		HTTPAddr:         ":8080",
		HistoryDB:        "experiments_history.db",
		HistoryRetention: "336h",
		MetricsNamespace: "yieldsim",
	}
}

// GetHistoryRetention parses the history retention window.
func (s Server) GetHistoryRetention() (time.Duration, error) {
	if s.HistoryRetention == "" {
		return 14 * 24 * time.Hour, nil
	}
	return time.ParseDuration(s.HistoryRetention)
}
