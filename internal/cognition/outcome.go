package cognition

import "fmt"

// Status classifies how a pipeline stage finished.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusFatal    Status = "fatal"
)

// Outcome is the result of one stage. Only a fatal outcome aborts a turn;
// a degraded one carries a warning and the turn continues with a fallback value.
type Outcome struct {
	Stage   string
	Status  Status
	Warning string
	Err     error
}

// OK reports a clean stage.
func OK(stage string) Outcome {
	return Outcome{Stage: stage, Status: StatusOK}
}

// Degraded reports a stage that recovered locally from err.
func Degraded(stage string, err error) Outcome {
	o := Outcome{Stage: stage, Status: StatusDegraded, Err: err}
	if err != nil {
		o.Warning = fmt.Sprintf("%s: %v", stage, err)
	} else {
		o.Warning = stage + ": degraded"
	}
	return o
}

// Fatal reports a stage that cannot continue.
func Fatal(stage string, err error) Outcome {
	return Outcome{Stage: stage, Status: StatusFatal, Err: err, Warning: fmt.Sprintf("%s: %v", stage, err)}
}

// IsFatal reports whether the turn must abort.
func (o Outcome) IsFatal() bool { return o.Status == StatusFatal }
