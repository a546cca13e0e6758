package routine

import "fmt"

// RoutineError reports where a routine failed. Angle is 1-based; 0 means
// every angle completed and the failure happened while consolidating the
// composite. Angles completed before the failure are preserved in the run
// record.
type RoutineError struct {
	Angle int
	Err   error
}

func (e *RoutineError) Error() string {
	if e.Angle == 0 {
		return fmt.Sprintf("routine failed consolidating results: %v", e.Err)
	}
	return fmt.Sprintf("routine failed at angle %d: %v", e.Angle, e.Err)
}

func (e *RoutineError) Unwrap() error { return e.Err }
