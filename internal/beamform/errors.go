package beamform

import "fmt"

// InvalidConfigError reports a processing configuration rejected at
// Processor construction. Construction fails fast: no frame is processed
// with a bad stage list.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return "invalid processing config: " + e.Reason
}

// StageError reports a numeric failure while executing one stage. The stage
// index identifies the failing stage; outputs of earlier stages and other
// frames are unaffected.
type StageError struct {
	Stage  int
	Dim    string
	Reason string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d (%s): %s", e.Stage, e.Dim, e.Reason)
}
