package pipeline

import (
	"errors"
	"fmt"

	"wastewatch-backend/internal/models"
)

// ErrIllegalTransition is returned for a status change the lifecycle does not allow.
var ErrIllegalTransition = errors.New("pipeline: illegal status transition")

// transitions lists every allowed status change. Staying in the same status is
// not a transition and is always allowed.
var transitions = map[models.Status][]models.Status{
	models.StatusPending: {
		models.StatusAssigned, models.StatusFake, models.StatusInvalid,
		models.StatusNoWaste, models.StatusAIError,
	},
	models.StatusAIError: {
		models.StatusAssigned, models.StatusFake, models.StatusInvalid,
		models.StatusNoWaste, models.StatusPending,
	},
	models.StatusAssigned: {models.StatusCleaned, models.StatusVerified},
	models.StatusCleaned:  {models.StatusVerified},
	models.StatusVerified: nil,
	models.StatusFake:     nil,
	models.StatusInvalid:  nil,
	models.StatusNoWaste:  nil,
}

// CanTransition reports whether from may move to to.
func CanTransition(from, to models.Status) bool {
	if from == to {
		_, known := transitions[from]
		return known
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to models.Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	return nil
}

// IsTerminal reports whether the pipeline never touches a report again.
func IsTerminal(s models.Status) bool {
	known := false
	if next, ok := transitions[s]; ok {
		known = true
		if len(next) > 0 {
			return false
		}
	}
	return known
}

// intakeEligible: a before photo is judged only while nothing was decided.
func intakeEligible(s models.Status) bool {
	return s == models.StatusPending || s == models.StatusAIError
}

// cleanupEligible: an after photo is judged for dispatched reports, including
// resubmissions after a failed verification.
func cleanupEligible(s models.Status) bool {
	return s == models.StatusAssigned || s == models.StatusCleaned
}
