package protocol

import "fmt"

// Servers may report logical failures inside a 2xx body; this is the phrase
// that marks the realtime-session concurrency cap.
const concurrencyLimitPhrase = "Concurrency limit"

// SessionCreateError reports a failed CreateSession call.
type SessionCreateError struct{ Err error }

func (e *SessionCreateError) Error() string { return "create session: " + e.Err.Error() }
func (e *SessionCreateError) Unwrap() error { return e.Err }

// QuestionFetchError reports a failed GetQuestion call.
type QuestionFetchError struct {
	Index int
	Err   error
}

func (e *QuestionFetchError) Error() string {
	return fmt.Sprintf("fetch question %d: %v", e.Index, e.Err)
}
func (e *QuestionFetchError) Unwrap() error { return e.Err }

// AnswerSubmitError reports a failed SubmitAnswer call.
type AnswerSubmitError struct{ Err error }

func (e *AnswerSubmitError) Error() string { return "submit answer: " + e.Err.Error() }
func (e *AnswerSubmitError) Unwrap() error { return e.Err }

// SpeechSynthesisError reports a failed SynthesizeSpeech call.
type SpeechSynthesisError struct{ Err error }

func (e *SpeechSynthesisError) Error() string { return "synthesize speech: " + e.Err.Error() }
func (e *SpeechSynthesisError) Unwrap() error { return e.Err }

// SessionCompleteError reports a failed CompleteSession call.
type SessionCompleteError struct{ Err error }

func (e *SessionCompleteError) Error() string { return "complete session: " + e.Err.Error() }
func (e *SessionCompleteError) Unwrap() error { return e.Err }

// ResultsFetchError reports a failed GetResults call.
type ResultsFetchError struct{ Err error }

func (e *ResultsFetchError) Error() string { return "fetch results: " + e.Err.Error() }
func (e *ResultsFetchError) Unwrap() error { return e.Err }

// RealtimeSessionCreateError reports a failed CreateRealtimeSession call that is
// not a concurrency cap.
type RealtimeSessionCreateError struct{ Err error }

func (e *RealtimeSessionCreateError) Error() string {
	return "create realtime session: " + e.Err.Error()
}
func (e *RealtimeSessionCreateError) Unwrap() error { return e.Err }

// ConcurrencyLimitError means the backend refused a new realtime session
// because too many are already running. Callers must not retry automatically.
type ConcurrencyLimitError struct{ Detail string }

func (e *ConcurrencyLimitError) Error() string {
	return "realtime session concurrency limit: " + e.Detail
}

// RealtimeSessionStopError reports a failed StopRealtimeSession call.
type RealtimeSessionStopError struct{ Err error }

func (e *RealtimeSessionStopError) Error() string { return "stop realtime session: " + e.Err.Error() }
func (e *RealtimeSessionStopError) Unwrap() error { return e.Err }
