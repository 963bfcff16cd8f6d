package renderer

type StepStatus int

const (
	StepOK StepStatus = iota
	StepSoftFailed
	StepFatal
)

func (s StepStatus) String() string {
	return [...]string{"ok", "soft failed", "fatal"}[s]
}

// Step is the outcome of one orchestration step. Only StepFatal stops the sequence.
type Step struct {
	Status StepStatus
	Err    error
}

func ok() Step {
	return Step{Status: StepOK}
}

func softFailed(err error) Step {
	return Step{Status: StepSoftFailed, Err: err}
}

func fatal(err error) Step {
	return Step{Status: StepFatal, Err: err}
}
