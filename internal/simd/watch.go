package simd

import "github.com/sugarbeet-lab/yieldsim/pkg/models"

// watchEvent is one update emitted to a stream subscriber.
type watchEvent struct {
	name string
	data map[string]any
}

// runWatcher turns successive snapshots of a run into status_change,
// progress and complete events. Shared by the SSE and gRPC streams.
type runWatcher struct {
	status     models.RunStatus
	trialsDone int
}

func newRunWatcher(rec *RunRecord) *runWatcher {
	return &runWatcher{status: rec.Run.Status, trialsDone: rec.Run.TrialsDone}
}

// initial reports the current state; terminal runs also get their completion.
func (w *runWatcher) initial(rec *RunRecord) []watchEvent {
	events := []watchEvent{
		{name: "status_change", data: map[string]any{"status": rec.Run.Status}},
		progressEvent(rec),
	}
	if rec.Run.Status.IsTerminal() {
		events = append(events, completeEvent(rec))
	}
	return events
}

// next diffs rec against the last snapshot. It reports true once the run
// is terminal.
func (w *runWatcher) next(rec *RunRecord) ([]watchEvent, bool) {
	var events []watchEvent
	if rec.Run.TrialsDone != w.trialsDone {
		w.trialsDone = rec.Run.TrialsDone
		events = append(events, progressEvent(rec))
	}
	if rec.Run.Status != w.status {
		events = append(events, watchEvent{name: "status_change", data: map[string]any{
			"previous": w.status,
			"status":   rec.Run.Status,
		}})
		w.status = rec.Run.Status
	}
	if rec.Run.Status.IsTerminal() {
		events = append(events, completeEvent(rec))
		return events, true
	}
	return events, false
}

func progressEvent(rec *RunRecord) watchEvent {
	return watchEvent{name: "progress", data: map[string]any{
		"trials_done": rec.Run.TrialsDone,
		"trials":      rec.Run.Trials,
	}}
}

func completeEvent(rec *RunRecord) watchEvent {
	data := map[string]any{"status": rec.Run.Status}
	switch rec.Run.Status {
	case models.RunStatusCompleted:
		data["result"] = rec.Result
	case models.RunStatusFailed:
		data["error_kind"] = rec.Run.ErrorKind
		data["error"] = rec.Run.Error
	case models.RunStatusCancelled:
		data["resume_from"] = rec.ResumeFrom()
	}
	return watchEvent{name: "complete", data: data}
}
