package pipeline

import (
	"errors"
	"fmt"
)

// ErrCorrelationMiss means no report could be matched to a finalized object.
var ErrCorrelationMiss = errors.New("pipeline: no report matches the uploaded object")

// LedgerUpdateError is a decided transition whose write failed. The status
// change and its awards were rolled back together; the report id and the
// intended awards are logged for manual reconciliation.
type LedgerUpdateError struct {
	ReportID string
	Err      error
}

func (e *LedgerUpdateError) Error() string {
	return fmt.Sprintf("pipeline: could not persist transition of report %s: %v", e.ReportID, e.Err)
}

func (e *LedgerUpdateError) Unwrap() error {
	return e.Err
}
