package httpserver

import (
	"encoding/base64"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/capture"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/protocol"
)

// Stub implements the interview backend's REST surface in memory, for local
// development of the client. Grading is scripted (audio length based), TTS
// returns a generated tone, and the avatar endpoints hand out fake room
// credentials behind a concurrency cap.
type Stub struct {
	MaxRealtime int

	mu       sync.Mutex
	sessions map[string]*stubSession
	realtime map[string]bool
	weeks    map[int]stubWeek
}

type stubWeek struct {
	Title     string
	Concepts  []string
	Questions []string
}

type stubSession struct {
	ID        string
	Week      int
	Index     int
	Complete  bool
	Scores    []float64
	StartedAt time.Time
}

// NewStub seeds a small two-week question bank.
func NewStub() *Stub {
	return &Stub{
		MaxRealtime: 2,
		sessions:    map[string]*stubSession{},
		realtime:    map[string]bool{},
		weeks: map[int]stubWeek{
			1: {
				Title:    "Foundations",
				Concepts: []string{"Processes", "Memory"},
				Questions: []string{
					"What is the difference between a process and a thread?",
					"Explain virtual memory in your own words.",
				},
			},
			2: {
				Title:    "Networking",
				Concepts: []string{"TCP", "HTTP"},
				Questions: []string{
					"Walk me through the TCP handshake.",
					"What happens when you type a URL into a browser?",
					"When would you pick UDP over TCP?",
				},
			},
		},
	}
}

// Register mounts the REST surface on an Echo instance.
func (s *Stub) Register(e *echo.Echo) {
	e.POST("/interview/session/create/", s.createSession)
	e.GET("/interview/session/:id/question/:index/", s.getQuestion)
	e.POST("/interview/session/:id/audio/", s.submitAnswer)
	e.POST("/interview/tts/speak/", s.synthesize)
	e.POST("/interview/session/:id/complete/", s.completeSession)
	e.GET("/interview/session/:id/results/", s.getResults)
	e.POST("/interview/avatar/session/create/", s.createRealtime)
	e.POST("/interview/avatar/:token/speak/", s.avatarSpeak)
	e.POST("/interview/avatar/session/stop/", s.stopRealtime)
}

func errJSON(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"error": msg})
}

func (s *Stub) createSession(c echo.Context) error {
	var req struct {
		WeekNumber int `json:"week_number"`
	}
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	week, ok := s.weeks[req.WeekNumber]
	if !ok {
		return errJSON(c, http.StatusNotFound, fmt.Sprintf("no question bank for week %d", req.WeekNumber))
	}
	sess := &stubSession{ID: uuid.NewString(), Week: req.WeekNumber, StartedAt: time.Now()}
	s.sessions[sess.ID] = sess
	return c.JSON(http.StatusOK, protocol.SessionInfo{
		SessionID: sess.ID,
		Week: protocol.WeekInfo{
			Week:        req.WeekNumber,
			Title:       week.Title,
			Description: "Stub curriculum week",
			Concepts:    week.Concepts,
		},
		TotalQuestions: len(week.Questions),
	})
}

func (s *Stub) getQuestion(c echo.Context) error {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil || index < 0 {
		return errJSON(c, http.StatusBadRequest, "invalid question index")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Param("id")]
	if !ok {
		return errJSON(c, http.StatusNotFound, "unknown session")
	}
	week := s.weeks[sess.Week]
	if index >= len(week.Questions) {
		return errJSON(c, http.StatusNotFound, "question index out of range")
	}
	return c.JSON(http.StatusOK, protocol.Question{Text: week.Questions[index], Index: index})
}

func (s *Stub) submitAnswer(c echo.Context) error {
	file, err := c.FormFile("audio")
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "missing audio attachment")
	}
	f, err := file.Open()
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "unreadable audio attachment")
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return errJSON(c, http.StatusBadRequest, "unreadable audio attachment")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Param("id")]
	if !ok {
		return errJSON(c, http.StatusNotFound, "unknown session")
	}
	if sess.Complete {
		return errJSON(c, http.StatusConflict, "session already complete")
	}
	week := s.weeks[sess.Week]
	current := week.Questions[sess.Index]

	// Scripted grading: longer answers score higher, capped at 95.
	score := math.Min(95, 40+float64(len(data))/2000)
	sess.Scores = append(sess.Scores, score)

	result := protocol.SubmissionResult{
		Transcript:      fmt.Sprintf("(stub transcript, %d bytes of audio)", len(data)),
		Score:           score,
		CurrentQuestion: current,
		Feedback: protocol.Feedback{
			Score:        score,
			MissedPoints: []string{"Mention a concrete example"},
			RedFlags:     []string{},
			Summary:      "Stub feedback: reasonable answer.",
		},
	}
	if sess.Index+1 < len(week.Questions) {
		sess.Index++
		result.NextQuestion = week.Questions[sess.Index]
		result.QuestionIndex = sess.Index
	} else {
		sess.Complete = true
		result.QuestionIndex = sess.Index
		result.IsComplete = true
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Stub) synthesize(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil || req.Text == "" {
		return errJSON(c, http.StatusBadRequest, "missing text")
	}
	// A short tone whose length tracks the text, so client playback timing
	// is observable without a real TTS engine.
	wav := toneWAV(min(len(req.Text)*30, 3000))
	return c.JSON(http.StatusOK, protocol.SpeechResult{
		AudioBase64: base64.StdEncoding.EncodeToString(wav),
	})
}

func (s *Stub) completeSession(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Param("id")]
	if !ok {
		return errJSON(c, http.StatusNotFound, "unknown session")
	}
	sess.Complete = true
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Stub) getResults(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[c.Param("id")]
	if !ok {
		return errJSON(c, http.StatusNotFound, "unknown session")
	}
	var sum float64
	for _, v := range sess.Scores {
		sum += v
	}
	avg := 0.0
	if len(sess.Scores) > 0 {
		avg = sum / float64(len(sess.Scores))
	}
	elapsed := int(time.Since(sess.StartedAt).Seconds())
	week := s.weeks[sess.Week]
	breakdown := map[string]float64{}
	for _, concept := range week.Concepts {
		breakdown[concept] = avg
	}
	return c.JSON(http.StatusOK, protocol.Results{
		PerformanceScore:     avg,
		MentorFeedback:       "Stub mentor feedback: keep practicing out loud.",
		TimeElapsedSec:       elapsed,
		TimeElapsedFormatted: fmt.Sprintf("%d:%02d", elapsed/60, elapsed%60),
		SkillBreakdown:       breakdown,
		QuestionsAnswered:    len(sess.Scores),
		AverageScore:         avg,
	})
}

func (s *Stub) createRealtime(c echo.Context) error {
	var req protocol.RealtimeSessionOptions
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.realtime) >= s.MaxRealtime {
		return errJSON(c, http.StatusTooManyRequests, "Concurrency limit reached")
	}
	token := uuid.NewString()
	s.realtime[token] = true
	return c.JSON(http.StatusOK, protocol.RealtimeSessionInfo{
		SessionToken:       token,
		SessionID:          uuid.NewString(),
		RoomURL:            "wss://rooms.invalid/" + token,
		RoomToken:          "stub-room-token",
		RoomName:           "interview-" + token[:8],
		SignalURL:          "wss://rooms.invalid/signal/" + token,
		MaxSessionDuration: 600,
	})
}

func (s *Stub) avatarSpeak(c echo.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.realtime[c.Param("token")] {
		return errJSON(c, http.StatusNotFound, "unknown realtime session")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Stub) stopRealtime(c echo.Context) error {
	var req protocol.StopRealtimeRequest
	if err := c.Bind(&req); err != nil {
		return errJSON(c, http.StatusBadRequest, "invalid request body")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.realtime, req.SessionToken)
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// toneWAV generates durationMs of a quiet 440Hz tone at 16kHz mono.
func toneWAV(durationMs int) []byte {
	n := 16000 * durationMs / 1000
	samples := make([]int16, n)
	phase := 0.0
	inc := 2 * math.Pi * 440.0 / 16000.0
	for i := range samples {
		samples[i] = int16(4000 * math.Sin(phase))
		phase += inc
	}
	return capture.EncodeWAV(samples, 16000)
}
