package engine

import (
	"errors"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

var (
	// ErrAggregationFailure means every trial of the run was degenerate.
	ErrAggregationFailure = errors.New("aggregation failure: every trial produced a zero optimum")
	// ErrBackendUnavailable means the numeric backend could not be initialised.
	ErrBackendUnavailable = errors.New("numeric backend unavailable")
	// ErrNumeric wraps solver failures inside a trial.
	ErrNumeric = errors.New("numeric error")
)

// Classify maps an error returned by Simulate to the kind reported in a
// Failed event.
func Classify(err error) models.ErrorKind {
	switch {
	case errors.Is(err, config.ErrInvalidConfig):
		return models.ErrorKindConfig
	case errors.Is(err, ErrAggregationFailure):
		return models.ErrorKindAggregation
	case errors.Is(err, ErrBackendUnavailable):
		return models.ErrorKindBackendUnavailable
	default:
		return models.ErrorKindNumeric
	}
}
