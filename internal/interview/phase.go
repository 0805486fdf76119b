package interview

// Phase is the orchestrator's current step in the conversational flow. Only
// the session mutates it.
type Phase string

const (
	// PhaseIdle: waiting for the user; recording may start.
	PhaseIdle Phase = "idle"
	// PhaseAsking: a question is being spoken.
	PhaseAsking Phase = "asking"
	// PhaseListening: microphone capture in flight.
	PhaseListening Phase = "listening"
	// PhaseProcessing: answer submitted, waiting for grading.
	PhaseProcessing Phase = "processing"
	// PhaseCompleting: final answer accepted; wrapping the session up. The
	// only phase in which recording is disabled.
	PhaseCompleting Phase = "completing"
)
