package interview

// ConnectivityError means session startup failed; the whole flow is blocked
// until the user retries Begin.
type ConnectivityError struct{ Err error }

func (e *ConnectivityError) Error() string { return "connectivity: " + e.Err.Error() }
func (e *ConnectivityError) Unwrap() error { return e.Err }

// MediaDeviceError means the microphone was unavailable or produced nothing;
// the current listening attempt is aborted and the session returns to idle.
type MediaDeviceError struct{ Err error }

func (e *MediaDeviceError) Error() string { return "media device: " + e.Err.Error() }
func (e *MediaDeviceError) Unwrap() error { return e.Err }

// SubmissionError means an answer upload failed; the session returns to idle
// without advancing the question and the turn is lost.
type SubmissionError struct{ Err error }

func (e *SubmissionError) Error() string { return "submission: " + e.Err.Error() }
func (e *SubmissionError) Unwrap() error { return e.Err }

// CompletionError means the post-completion calls (complete and results)
// failed even after retries; the session stays in completing with no results.
type CompletionError struct{ Err error }

func (e *CompletionError) Error() string { return "completion: " + e.Err.Error() }
func (e *CompletionError) Unwrap() error { return e.Err }
