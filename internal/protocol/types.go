package protocol

// WeekInfo describes the curriculum week an interview session is scoped to.
type WeekInfo struct {
	Week        int      `json:"week"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Concepts    []string `json:"concepts"`
}

// SessionInfo is returned by CreateSession.
type SessionInfo struct {
	SessionID      string   `json:"session_id"`
	Week           WeekInfo `json:"week"`
	TotalQuestions int      `json:"total_questions"`
}

// Question is a single interview question addressed by 0-based index.
type Question struct {
	Text  string `json:"question_text"`
	Index int    `json:"question_index"`
}

// Feedback is the structured grading attached to a submitted answer.
type Feedback struct {
	Score        float64  `json:"score"`
	MissedPoints []string `json:"missed_points"`
	RedFlags     []string `json:"red_flags"`
	Summary      string   `json:"summary"`
}

// SubmissionResult is returned by SubmitAnswer. NextQuestion is empty when the
// interview is finished; IsComplete is authoritative.
type SubmissionResult struct {
	Transcript      string   `json:"transcript"`
	Score           float64  `json:"score"`
	Feedback        Feedback `json:"feedback"`
	CurrentQuestion string   `json:"current_question"`
	NextQuestion    string   `json:"next_question"`
	QuestionIndex   int      `json:"question_index"`
	IsComplete      bool     `json:"is_complete"`
}

// SpeechResult carries synthesized speech as either a fetchable URL or inline
// base64 audio. Callers must handle both.
type SpeechResult struct {
	AudioURL    string `json:"audio_url"`
	AudioBase64 string `json:"audio_base64"`
}

// Results is the final session record returned by GetResults.
type Results struct {
	PerformanceScore     float64            `json:"performance_score"`
	MentorFeedback       string             `json:"mentor_feedback"`
	TimeElapsedSec       int                `json:"time_elapsed_sec"`
	TimeElapsedFormatted string             `json:"time_elapsed_formatted"`
	SkillBreakdown       map[string]float64 `json:"skill_breakdown,omitempty"`
	QuestionsAnswered    int                `json:"questions_answered"`
	AverageScore         float64            `json:"average_score"`
}

// RealtimeSessionOptions configures CreateRealtimeSession. Zero-value fields are
// omitted so the backend applies its defaults.
type RealtimeSessionOptions struct {
	AvatarID     string `json:"avatar_id,omitempty"`
	VoiceID      string `json:"voice_id,omitempty"`
	Mode         string `json:"mode,omitempty"`
	AutoGreeting bool   `json:"auto_greeting,omitempty"`
}

// RealtimeSessionInfo holds the connection credentials for one avatar room.
type RealtimeSessionInfo struct {
	SessionToken       string `json:"session_token"`
	SessionID          string `json:"session_id"`
	RoomURL            string `json:"livekit_url"`
	RoomToken          string `json:"livekit_token"`
	RoomName           string `json:"room_name"`
	SignalURL          string `json:"ws_url"`
	MaxSessionDuration int    `json:"max_session_duration"`
}

// StopRealtimeRequest identifies the realtime session to tear down. Either
// field is sufficient; both are sent when known.
type StopRealtimeRequest struct {
	SessionToken string `json:"session_token,omitempty"`
	SessionID    string `json:"session_id,omitempty"`
}
