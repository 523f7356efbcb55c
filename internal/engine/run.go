package engine

import (
	"context"

	"github.com/sugarbeet-lab/yieldsim/pkg/config"
	"github.com/sugarbeet-lab/yieldsim/pkg/models"
)

// eventBuffer bounds how far the simulation can run ahead of a slow consumer.
const eventBuffer = 16

// Run starts a simulation in its own goroutine and returns its event stream.
// The stream ends with exactly one terminal event and is then closed; the
// caller must drain it. Progress events are dropped once ctx is done.
func Run(ctx context.Context, cfg config.Simulation, resume *models.Checkpoint, opts ...Option) <-chan models.Event {
	events := make(chan models.Event, eventBuffer)

	progress := func(done int) {
		select {
		case events <- models.Event{Kind: models.EventProgress, TrialsDone: done}:
		case <-ctx.Done():
		}
	}

	go func() {
		defer close(events)
		outcome, err := Simulate(ctx, cfg, resume, append(opts, WithProgress(progress))...)
		events <- terminalEvent(outcome, err)
	}()
	return events
}

// Collect drains a Run stream, returning every progress count and the
// terminal event.
func Collect(events <-chan models.Event) (progress []int, last models.Event) {
	for ev := range events {
		if ev.Kind == models.EventProgress {
			progress = append(progress, ev.TrialsDone)
			continue
		}
		last = ev
	}
	return progress, last
}

func terminalEvent(outcome *models.Outcome, err error) models.Event {
	switch {
	case err != nil:
		return models.Event{Kind: models.EventFailed, ErrorKind: Classify(err), Message: err.Error()}
	case outcome.Cancelled():
		return models.Event{Kind: models.EventCancelled, TrialsDone: outcome.Checkpoint.NextTrial, Checkpoint: outcome.Checkpoint}
	case outcome.Result != nil:
		return models.Event{Kind: models.EventCompleted, TrialsDone: outcome.Result.Trials + outcome.Degenerate, Result: outcome.Result}
	default:
		return models.Event{Kind: models.EventFailed, ErrorKind: models.ErrorKindAggregation, Message: ErrAggregationFailure.Error()}
	}
}
