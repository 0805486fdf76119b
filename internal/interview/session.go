package interview

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/capture"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/metrics"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/protocol"
)

// Backend is the slice of the session protocol the orchestrator consumes.
// Satisfied by *protocol.Client.
type Backend interface {
	CreateSession(ctx context.Context, weekNumber int) (protocol.SessionInfo, error)
	GetQuestion(ctx context.Context, sessionID string, index int) (protocol.Question, error)
	SubmitAnswer(ctx context.Context, sessionID string, audio []byte, mimeType string) (protocol.SubmissionResult, error)
	CompleteSession(ctx context.Context, sessionID string) error
	GetResults(ctx context.Context, sessionID string) (protocol.Results, error)
}

// Recorder captures one utterance at a time.
type Recorder interface {
	Start(ctx context.Context) error
	Stop() (capture.Recording, error)
}

// SpeechPlayer speaks question text; failures are never fatal to the flow.
type SpeechPlayer interface {
	Speak(ctx context.Context, text string) error
}

// Callbacks observe the session. All are optional and invoked with the
// session lock released.
type Callbacks struct {
	OnPhase    func(Phase)
	OnQuestion func(protocol.Question)
	OnFeedback func(protocol.SubmissionResult)
	OnResults  func(protocol.Results)
	OnError    func(error)
	OnTick     func(seconds int)
}

// Session orchestrates one interview: it owns the session identity, the
// current question, the elapsed-time counter and the phase, and sequences the
// protocol client, the recorder and the speech player. One protocol call is
// outstanding at a time; the avatar room runs independently and never touches
// this state.
type Session struct {
	backend  Backend
	recorder Recorder
	player   SpeechPlayer
	cb       Callbacks
	mets     *metrics.Metrics

	settleDelay     time.Duration
	completionTries int

	mu                 sync.Mutex
	phase              Phase
	closed             bool
	finished           bool
	connectivityFailed bool
	sessionID          string
	week               protocol.WeekInfo
	totalQuestions     int
	current            protocol.Question
	questionsAnswered  int
	elapsed            int
	results            *protocol.Results
	timerStop          chan struct{}
}

// NewSession wires the orchestrator. Settling delay and completion retries
// follow the observed reference behavior; override with the With methods.
func NewSession(backend Backend, recorder Recorder, player SpeechPlayer, cb Callbacks) *Session {
	return &Session{
		backend:         backend,
		recorder:        recorder,
		player:          player,
		cb:              cb,
		phase:           PhaseIdle,
		settleDelay:     2500 * time.Millisecond,
		completionTries: 3,
	}
}

// WithSettleDelay overrides the pause before the completion calls.
func (s *Session) WithSettleDelay(d time.Duration) *Session {
	s.settleDelay = d
	return s
}

// WithMetrics attaches a counters collector.
func (s *Session) WithMetrics(m *metrics.Metrics) *Session {
	s.mets = m
	return s
}

// Begin creates the session, fetches question zero and speaks it. On any
// startup failure the session is left in a retryable connectivity-failed state
// and *ConnectivityError is returned; calling Begin again retries from
// scratch.
func (s *Session) Begin(ctx context.Context, weekNumber int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("session closed")
	}
	if s.sessionID != "" && !s.connectivityFailed {
		s.mu.Unlock()
		return fmt.Errorf("session already started")
	}
	s.connectivityFailed = false
	s.mu.Unlock()

	info, err := s.backend.CreateSession(ctx, weekNumber)
	s.countCall(err)
	if err != nil {
		s.failConnectivity()
		return &ConnectivityError{Err: err}
	}
	if s.dead() {
		return nil
	}

	q, err := s.backend.GetQuestion(ctx, info.SessionID, 0)
	s.countCall(err)
	if err != nil {
		s.failConnectivity()
		return &ConnectivityError{Err: err}
	}
	if s.dead() {
		return nil
	}

	s.mu.Lock()
	s.sessionID = info.SessionID
	s.week = info.Week
	s.totalQuestions = info.TotalQuestions
	s.current = q
	s.timerStop = make(chan struct{})
	s.mu.Unlock()

	if s.mets != nil {
		s.mets.IncrementSessionsStarted()
		s.mets.IncrementQuestionsAsked()
	}
	go s.runTimer(s.timerStop)
	if s.cb.OnQuestion != nil {
		s.cb.OnQuestion(q)
	}

	s.setPhase(PhaseAsking)
	s.speak(ctx, q.Text)
	s.setPhase(PhaseIdle)
	return nil
}

// StartRecording moves idle -> listening and acquires the microphone. A mic
// failure aborts the attempt and returns to idle; no submission happens.
func (s *Session) StartRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.closed || s.finished {
		s.mu.Unlock()
		return fmt.Errorf("session not active")
	}
	if s.phase != PhaseIdle {
		s.mu.Unlock()
		return fmt.Errorf("cannot record in phase %q", s.phase)
	}
	s.mu.Unlock()

	s.setPhase(PhaseListening)
	if err := s.recorder.Start(ctx); err != nil {
		s.setPhase(PhaseIdle)
		werr := &MediaDeviceError{Err: err}
		s.report(werr)
		return werr
	}
	return nil
}

// StopRecording moves listening -> processing, submits the captured audio and
// drives the resulting transition: next question, completion, or back to idle
// on failure. It blocks until the turn settles.
func (s *Session) StopRecording(ctx context.Context) error {
	s.mu.Lock()
	if s.phase != PhaseListening {
		s.mu.Unlock()
		return fmt.Errorf("not listening")
	}
	s.mu.Unlock()

	rec, err := s.recorder.Stop()
	if err != nil {
		s.setPhase(PhaseIdle)
		werr := &MediaDeviceError{Err: err}
		s.report(werr)
		return werr
	}

	s.setPhase(PhaseProcessing)
	return s.handleSubmission(ctx, rec)
}

func (s *Session) handleSubmission(ctx context.Context, rec capture.Recording) error {
	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	result, err := s.backend.SubmitAnswer(ctx, sessionID, rec.Data, rec.MIME)
	s.countCall(err)
	if err != nil {
		// The turn is lost; the user records again from idle.
		s.setPhase(PhaseIdle)
		werr := &SubmissionError{Err: err}
		s.report(werr)
		return werr
	}
	if s.dead() {
		return nil
	}

	s.mu.Lock()
	s.questionsAnswered++
	if result.QuestionIndex < s.current.Index {
		// The index never decreases within a session; keep ours on a
		// misbehaving response.
		log.Printf("interview: server index %d behind current %d, ignoring", result.QuestionIndex, s.current.Index)
		result.QuestionIndex = s.current.Index
	}
	s.mu.Unlock()

	if s.mets != nil {
		s.mets.IncrementAnswersSubmitted()
	}
	if s.cb.OnFeedback != nil {
		s.cb.OnFeedback(result)
	}

	if result.IsComplete {
		return s.finishSession(ctx)
	}

	next := protocol.Question{Text: result.NextQuestion, Index: result.QuestionIndex}
	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	if s.mets != nil {
		s.mets.IncrementQuestionsAsked()
	}
	if s.cb.OnQuestion != nil {
		s.cb.OnQuestion(next)
	}
	s.setPhase(PhaseAsking)
	s.speak(ctx, next.Text)
	s.setPhase(PhaseIdle)
	return nil
}

// finishSession runs the completion sequence: settle, complete, fetch results.
// Both backend calls are retried a few times; if either still fails the
// session is left in completing and *CompletionError is surfaced.
func (s *Session) finishSession(ctx context.Context) error {
	s.setPhase(PhaseCompleting)

	// Settling delay: let trailing playback and UI catch up before the
	// completion calls.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.settleDelay):
	}
	if s.dead() {
		return nil
	}

	s.mu.Lock()
	sessionID := s.sessionID
	s.mu.Unlock()

	if err := s.withRetry(ctx, func() error {
		err := s.backend.CompleteSession(ctx, sessionID)
		s.countCall(err)
		return err
	}); err != nil {
		werr := &CompletionError{Err: err}
		s.report(werr)
		return werr
	}
	if s.dead() {
		return nil
	}

	var results protocol.Results
	if err := s.withRetry(ctx, func() error {
		r, err := s.backend.GetResults(ctx, sessionID)
		s.countCall(err)
		if err == nil {
			results = r
		}
		return err
	}); err != nil {
		werr := &CompletionError{Err: err}
		s.report(werr)
		return werr
	}
	if s.dead() {
		return nil
	}

	s.mu.Lock()
	s.finished = true
	s.results = &results
	stop := s.timerStop
	s.timerStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
	if s.mets != nil {
		s.mets.IncrementSessionsFinished()
	}
	if s.cb.OnResults != nil {
		s.cb.OnResults(results)
	}
	return nil
}

func (s *Session) withRetry(ctx context.Context, call func() error) error {
	var err error
	for attempt := 1; attempt <= s.completionTries; attempt++ {
		if err = call(); err == nil {
			return nil
		}
		if s.dead() || ctx.Err() != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return err
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return err
}

// speak plays question text. Any failure is logged and reported but never
// propagates: the transcript stays visible, so the flow proceeds as if
// playback completed.
func (s *Session) speak(ctx context.Context, text string) {
	if s.player == nil || text == "" {
		return
	}
	if err := s.player.Speak(ctx, text); err != nil {
		log.Printf("interview: playback failed (continuing): %v", err)
		if s.mets != nil {
			s.mets.IncrementPlaybackFailures()
		}
		s.report(err)
	}
}

func (s *Session) runTimer(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			if s.closed || s.finished {
				s.mu.Unlock()
				return
			}
			s.elapsed++
			n := s.elapsed
			onTick := s.cb.OnTick
			s.mu.Unlock()
			if onTick != nil {
				onTick(n)
			}
		}
	}
}

// Close abandons the session. Late responses from in-flight calls are dropped.
// Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	stop := s.timerStop
	s.timerStop = nil
	s.mu.Unlock()
	if stop != nil {
		close(stop)
	}
}

func (s *Session) setPhase(p Phase) {
	s.mu.Lock()
	if s.closed || s.phase == p {
		s.mu.Unlock()
		return
	}
	s.phase = p
	onPhase := s.cb.OnPhase
	s.mu.Unlock()
	if onPhase != nil {
		onPhase(p)
	}
}

func (s *Session) failConnectivity() {
	s.mu.Lock()
	s.connectivityFailed = true
	s.mu.Unlock()
}

// dead reports whether asynchronous continuations should be dropped.
func (s *Session) dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) report(err error) {
	if s.cb.OnError != nil {
		s.cb.OnError(err)
	}
}

func (s *Session) countCall(err error) {
	if s.mets != nil {
		s.mets.IncrementAPICall(err == nil)
	}
}

// Phase returns the current phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// SessionID returns the backend session identifier, empty before Begin.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// CurrentQuestion returns the question the user is expected to answer.
func (s *Session) CurrentQuestion() protocol.Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Week returns the curriculum metadata for this session.
func (s *Session) Week() protocol.WeekInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.week
}

// TotalQuestions returns the announced question count.
func (s *Session) TotalQuestions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalQuestions
}

// Elapsed returns whole seconds since the session became active.
func (s *Session) Elapsed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.elapsed
}

// Finished reports whether the session reached its terminal state.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// ConnectivityFailed reports whether startup failed; Begin may be retried.
func (s *Session) ConnectivityFailed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connectivityFailed
}

// Results returns the final record, nil until the session finished.
func (s *Session) Results() *protocol.Results {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.results
}

// QuestionsAnswered counts non-failed submissions in this session.
func (s *Session) QuestionsAnswered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.questionsAnswered
}
