package session

import "errors"

var (
	// ErrBusy reports a submit or initialize attempt while a prior call for
	// the same session is still in flight. No request is sent.
	ErrBusy = errors.New("a call for this session is already in flight")

	// ErrNotInitialized reports a stage submission before the session
	// identifier was obtained.
	ErrNotInitialized = errors.New("session not initialized")

	// ErrWrongStage reports a submission for a stage other than the one the
	// current step awaits. This is a programmer error and fails fast.
	ErrWrongStage = errors.New("capture submitted for the wrong stage")

	// ErrBootstrapExhausted reports that session initialization failed the
	// maximum number of times; the caller must reset or abandon explicitly.
	ErrBootstrapExhausted = errors.New("session initialization failed too many times")

	// ErrClosed reports an operation on a torn-down sequencer.
	ErrClosed = errors.New("session closed")
)

// MissingReferenceError reports a recognized exam code with no stored
// reference-answer set. It is distinct from transient failures so the
// presentation layer can point at the registration flow.
type MissingReferenceError struct {
	ExamCode string
}

func (e *MissingReferenceError) Error() string {
	return "no reference answers registered for exam code " + e.ExamCode +
		" — register them first (gradescan answers)"
}
