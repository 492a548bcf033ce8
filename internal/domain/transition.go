package domain

import "fmt"

// Transition names a directed status pair in the work item pipeline.
type Transition string

const (
	TransitionBacklogToReady     Transition = "backlog_to_ready"
	TransitionReadyToInProgress  Transition = "ready_to_in_progress"
	TransitionInProgressToReview Transition = "in_progress_to_review"
	TransitionReviewToDone       Transition = "review_to_done"
	TransitionReviewToInProgress Transition = "review_to_in_progress"
)

// AllTransitions returns the five legal transitions in pipeline order.
func AllTransitions() []Transition {
	return []Transition{
		TransitionBacklogToReady,
		TransitionReadyToInProgress,
		TransitionInProgressToReview,
		TransitionReviewToDone,
		TransitionReviewToInProgress,
	}
}

// TransitionFor resolves a (current, target) status pair to its named
// transition. The second return is false when the pair is not one of the
// five legal transitions.
func TransitionFor(from, to WorkItemStatus) (Transition, bool) {
	switch {
	case from == StatusBacklog && to == StatusReady:
		return TransitionBacklogToReady, true
	case from == StatusReady && to == StatusInProgress:
		return TransitionReadyToInProgress, true
	case from == StatusInProgress && to == StatusReview:
		return TransitionInProgressToReview, true
	case from == StatusReview && to == StatusDone:
		return TransitionReviewToDone, true
	case from == StatusReview && to == StatusInProgress:
		return TransitionReviewToInProgress, true
	}
	return "", false
}

// Endpoints returns the (from, to) status pair for a named transition.
func (t Transition) Endpoints() (WorkItemStatus, WorkItemStatus, error) {
	switch t {
	case TransitionBacklogToReady:
		return StatusBacklog, StatusReady, nil
	case TransitionReadyToInProgress:
		return StatusReady, StatusInProgress, nil
	case TransitionInProgressToReview:
		return StatusInProgress, StatusReview, nil
	case TransitionReviewToDone:
		return StatusReview, StatusDone, nil
	case TransitionReviewToInProgress:
		return StatusReview, StatusInProgress, nil
	}
	return "", "", fmt.Errorf("unknown transition: %s", t)
}
