package blame

import (
	"github.com/rpattn/asset360/internal/instance"
)

// ComputeHistory rebuilds the deltas of a stage chain from its value
// snapshots. The base stage is returned as given; every later stage keeps
// its meta and value, gets the diff from its predecessor as deltas and no
// rejected paths. The final value is the value of the last stage.
func ComputeHistory(stages []ChangeStage) (*instance.Instance, []ChangeStage, error) {
	if len(stages) == 0 {
		return nil, nil, ErrNoStages
	}
	history := make([]ChangeStage, 0, len(stages))
	history = append(history, stages[0])
	previous := stages[0].Value
	for _, stage := range stages[1:] {
		history = append(history, ChangeStage{
			Meta:           stage.Meta,
			Value:          stage.Value,
			Deltas:         Diff(previous, stage.Value),
			DeltasPresence: PresenceList,
		})
		previous = stage.Value
	}
	return previous, history, nil
}

// Replay applies a recomputed chain onto its own base and returns the
// result. It is the check that a chain is internally consistent.
func Replay(stages []ChangeStage) (ApplyResult, error) {
	if len(stages) == 0 {
		return ApplyResult{}, ErrNoStages
	}
	return ApplyDeltas(stages[0].Value, stages[1:])
}
