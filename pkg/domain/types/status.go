package types

import "fmt"

// VisitStatus represents the processing status of a Visit revision.
// Transitions are monotonic forward, or to VisitStatusFailed.
type VisitStatus string

const (
	VisitStatusPending     VisitStatus = "PENDING"
	VisitStatusFetching    VisitStatus = "FETCHING"
	VisitStatusSummarizing VisitStatus = "SUMMARIZING"
	VisitStatusEmbedding   VisitStatus = "EMBEDDING"
	VisitStatusLinking     VisitStatus = "LINKING"
	VisitStatusDone        VisitStatus = "DONE"
	VisitStatusFailed      VisitStatus = "FAILED"
)

// AllVisitStatuses returns all valid visit statuses
func AllVisitStatuses() []VisitStatus {
	return []VisitStatus{
		VisitStatusPending,
		VisitStatusFetching,
		VisitStatusSummarizing,
		VisitStatusEmbedding,
		VisitStatusLinking,
		VisitStatusDone,
		VisitStatusFailed,
	}
}

// IsValid checks if the visit status is valid
func (s VisitStatus) IsValid() bool {
	switch s {
	case VisitStatusPending,
		VisitStatusFetching,
		VisitStatusSummarizing,
		VisitStatusEmbedding,
		VisitStatusLinking,
		VisitStatusDone,
		VisitStatusFailed:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transitions are allowed from s.
func (s VisitStatus) IsTerminal() bool {
	return s == VisitStatusDone || s == VisitStatusFailed
}

// order maps each status to its position in the forward progression.
// VisitStatusFailed is reachable from any non-terminal status.
var order = map[VisitStatus]int{
	VisitStatusPending:     0,
	VisitStatusFetching:    1,
	VisitStatusSummarizing: 2,
	VisitStatusEmbedding:   3,
	VisitStatusLinking:     4,
	VisitStatusDone:        5,
}

// CanTransitionTo reports whether a transition from s to next is legal:
// one step forward, or to Failed from any non-terminal status.
func (s VisitStatus) CanTransitionTo(next VisitStatus) bool {
	if s.IsTerminal() {
		return false
	}
	if next == VisitStatusFailed {
		return true
	}
	from, ok := order[s]
	if !ok {
		return false
	}
	to, ok := order[next]
	if !ok {
		return false
	}
	return to == from+1
}

// String returns the string representation of the visit status
func (s VisitStatus) String() string {
	return string(s)
}

// ParseVisitStatus parses a string into a VisitStatus
func ParseVisitStatus(s string) (VisitStatus, error) {
	status := VisitStatus(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid visit status: %s", s)
	}
	return status, nil
}

// Stage is one step of the processing pipeline.
type Stage string

const (
	StageFetch     Stage = "fetch"
	StageSummarize Stage = "summarize"
	StageEmbed     Stage = "embed"
	StageLink      Stage = "link"
)

// AllStages returns the pipeline stages in execution order
func AllStages() []Stage {
	return []Stage{StageFetch, StageSummarize, StageEmbed, StageLink}
}

// IsValid checks if the stage is valid
func (s Stage) IsValid() bool {
	switch s {
	case StageFetch, StageSummarize, StageEmbed, StageLink:
		return true
	default:
		return false
	}
}

// String returns the string representation of the stage
func (s Stage) String() string {
	return string(s)
}

// Status returns the active visit status for the stage.
func (s Stage) Status() VisitStatus {
	switch s {
	case StageFetch:
		return VisitStatusFetching
	case StageSummarize:
		return VisitStatusSummarizing
	case StageEmbed:
		return VisitStatusEmbedding
	case StageLink:
		return VisitStatusLinking
	default:
		return VisitStatusPending
	}
}

// NextStatus returns the visit status that follows successful completion
// of the stage.
func (s Stage) NextStatus() VisitStatus {
	switch s {
	case StageFetch:
		return VisitStatusSummarizing
	case StageSummarize:
		return VisitStatusEmbedding
	case StageEmbed:
		return VisitStatusLinking
	case StageLink:
		return VisitStatusDone
	default:
		return VisitStatusPending
	}
}

// StageForStatus returns the stage a worker must run for a visit observed
// in the given status. Pending resolves to the fetch stage.
func StageForStatus(status VisitStatus) (Stage, bool) {
	switch status {
	case VisitStatusPending, VisitStatusFetching:
		return StageFetch, true
	case VisitStatusSummarizing:
		return StageSummarize, true
	case VisitStatusEmbedding:
		return StageEmbed, true
	case VisitStatusLinking:
		return StageLink, true
	default:
		return "", false
	}
}
