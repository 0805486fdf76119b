package interview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/capture"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/protocol"
)

type fakeBackend struct {
	mu sync.Mutex

	createErr   error
	questionErr error
	submitErr   error
	submitErrs  []error
	completeErr error
	resultsErr  error

	completeCalls int
	resultsCalls  int

	questions []protocol.Question
	results   protocol.Results

	// submissions returned in order; the last one repeats.
	submissions []protocol.SubmissionResult
	submitted   int
}

func (f *fakeBackend) CreateSession(ctx context.Context, weekNumber int) (protocol.SessionInfo, error) {
	if f.createErr != nil {
		return protocol.SessionInfo{}, f.createErr
	}
	return protocol.SessionInfo{
		SessionID:      "sess-1",
		Week:           protocol.WeekInfo{Week: weekNumber, Title: "Networking"},
		TotalQuestions: len(f.questions),
	}, nil
}

func (f *fakeBackend) GetQuestion(ctx context.Context, sessionID string, index int) (protocol.Question, error) {
	if f.questionErr != nil {
		return protocol.Question{}, f.questionErr
	}
	return f.questions[index], nil
}

func (f *fakeBackend) SubmitAnswer(ctx context.Context, sessionID string, audio []byte, mimeType string) (protocol.SubmissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return protocol.SubmissionResult{}, err
		}
	} else if f.submitErr != nil {
		return protocol.SubmissionResult{}, f.submitErr
	}
	i := f.submitted
	if i >= len(f.submissions) {
		i = len(f.submissions) - 1
	}
	f.submitted++
	return f.submissions[i], nil
}

func (f *fakeBackend) CompleteSession(ctx context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completeCalls++
	return f.completeErr
}

func (f *fakeBackend) GetResults(ctx context.Context, sessionID string) (protocol.Results, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resultsCalls++
	if f.resultsErr != nil {
		return protocol.Results{}, f.resultsErr
	}
	return f.results, nil
}

type fakeRecorder struct {
	startErr error
	stopErr  error
	started  int
	stopped  int
}

func (f *fakeRecorder) Start(ctx context.Context) error {
	f.started++
	return f.startErr
}

func (f *fakeRecorder) Stop() (capture.Recording, error) {
	f.stopped++
	if f.stopErr != nil {
		return capture.Recording{}, f.stopErr
	}
	return capture.Recording{Data: []byte("RIFFaudio"), MIME: "audio/wav", SampleRate: 16000}, nil
}

type fakePlayer struct {
	mu     sync.Mutex
	spoken []string
	err    error
}

func (f *fakePlayer) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return f.err
}

func (f *fakePlayer) texts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.spoken))
	copy(out, f.spoken)
	return out
}

type recordedEvents struct {
	mu       sync.Mutex
	phases   []Phase
	errs     []error
	results  []protocol.Results
	feedback []protocol.SubmissionResult
}

func (r *recordedEvents) callbacks() Callbacks {
	return Callbacks{
		OnPhase: func(p Phase) {
			r.mu.Lock()
			r.phases = append(r.phases, p)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnResults: func(res protocol.Results) {
			r.mu.Lock()
			r.results = append(r.results, res)
			r.mu.Unlock()
		},
		OnFeedback: func(fb protocol.SubmissionResult) {
			r.mu.Lock()
			r.feedback = append(r.feedback, fb)
			r.mu.Unlock()
		},
	}
}

func (r *recordedEvents) phaseList() []Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Phase, len(r.phases))
	copy(out, r.phases)
	return out
}

func twoQuestionBackend() *fakeBackend {
	return &fakeBackend{
		questions: []protocol.Question{
			{Text: "What is TCP?", Index: 0},
			{Text: "What is UDP?", Index: 1},
		},
		submissions: []protocol.SubmissionResult{
			{Transcript: "a1", Score: 70, NextQuestion: "What is UDP?", QuestionIndex: 1},
			{Transcript: "a2", Score: 80, IsComplete: true, QuestionIndex: 1},
		},
		results: protocol.Results{PerformanceScore: 75, QuestionsAnswered: 2},
	}
}

func TestSession_FullInterviewFlow(t *testing.T) {
	backend := twoQuestionBackend()
	rec := &fakeRecorder{}
	player := &fakePlayer{}
	events := &recordedEvents{}
	s := NewSession(backend, rec, player, events.callbacks()).WithSettleDelay(time.Millisecond)
	defer s.Close()

	ctx := context.Background()
	if err := s.Begin(ctx, 4); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle after first question, got %s", s.Phase())
	}
	if got := s.CurrentQuestion().Text; got != "What is TCP?" {
		t.Fatalf("unexpected first question %q", got)
	}

	// Turn one.
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
	if got := s.CurrentQuestion().Index; got != 1 {
		t.Fatalf("expected to advance to question 1, got %d", got)
	}

	// Turn two finishes the interview.
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	if !s.Finished() {
		t.Fatalf("expected finished session")
	}
	if s.QuestionsAnswered() != 2 {
		t.Fatalf("expected 2 answers, got %d", s.QuestionsAnswered())
	}
	res := s.Results()
	if res == nil || res.PerformanceScore != 75 {
		t.Fatalf("unexpected results: %+v", res)
	}
	if backend.completeCalls != 1 || backend.resultsCalls != 1 {
		t.Fatalf("completion calls = %d/%d, want 1/1", backend.completeCalls, backend.resultsCalls)
	}
	if got := player.texts(); len(got) != 2 || got[0] != "What is TCP?" || got[1] != "What is UDP?" {
		t.Fatalf("unexpected spoken texts: %v", got)
	}

	want := []Phase{PhaseAsking, PhaseIdle, PhaseListening, PhaseProcessing, PhaseAsking, PhaseIdle, PhaseListening, PhaseProcessing, PhaseCompleting}
	got := events.phaseList()
	if len(got) != len(want) {
		t.Fatalf("phase sequence %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("phase[%d] = %s, want %s (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestSession_BeginFailureIsRetryable(t *testing.T) {
	backend := twoQuestionBackend()
	backend.createErr = errors.New("connection refused")
	events := &recordedEvents{}
	s := NewSession(backend, &fakeRecorder{}, &fakePlayer{}, events.callbacks())
	defer s.Close()

	err := s.Begin(context.Background(), 4)
	var cerr *ConnectivityError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *ConnectivityError, got %v", err)
	}
	if !s.ConnectivityFailed() {
		t.Fatalf("expected connectivity-failed state")
	}

	// The backend comes back; the same session object retries from scratch.
	backend.createErr = nil
	if err := s.Begin(context.Background(), 4); err != nil {
		t.Fatalf("retry begin: %v", err)
	}
	if s.ConnectivityFailed() {
		t.Fatalf("connectivity flag should clear on success")
	}
	if s.SessionID() != "sess-1" {
		t.Fatalf("expected session id after retry")
	}
}

func TestSession_BeginTwiceRejected(t *testing.T) {
	s := NewSession(twoQuestionBackend(), &fakeRecorder{}, nil, Callbacks{})
	defer s.Close()
	if err := s.Begin(context.Background(), 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Begin(context.Background(), 1); err == nil {
		t.Fatalf("expected error on second Begin")
	}
}

func TestSession_MicFailureReturnsToIdle(t *testing.T) {
	rec := &fakeRecorder{startErr: errors.New("device busy")}
	events := &recordedEvents{}
	s := NewSession(twoQuestionBackend(), rec, nil, events.callbacks())
	defer s.Close()
	if err := s.Begin(context.Background(), 1); err != nil {
		t.Fatalf("begin: %v", err)
	}

	err := s.StartRecording(context.Background())
	var merr *MediaDeviceError
	if !errors.As(err, &merr) {
		t.Fatalf("expected *MediaDeviceError, got %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle after mic failure, got %s", s.Phase())
	}

	// Recording must still work once the device frees up.
	rec.startErr = nil
	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("start after recovery: %v", err)
	}
	if s.Phase() != PhaseListening {
		t.Fatalf("expected listening, got %s", s.Phase())
	}
}

func TestSession_SubmissionFailureKeepsQuestion(t *testing.T) {
	backend := twoQuestionBackend()
	backend.submitErrs = []error{errors.New("502 bad gateway")}
	events := &recordedEvents{}
	s := NewSession(backend, &fakeRecorder{}, nil, events.callbacks())
	defer s.Close()
	ctx := context.Background()
	if err := s.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}

	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := s.StopRecording(ctx)
	var serr *SubmissionError
	if !errors.As(err, &serr) {
		t.Fatalf("expected *SubmissionError, got %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle after failed submission, got %s", s.Phase())
	}
	if got := s.CurrentQuestion().Index; got != 0 {
		t.Fatalf("question must not advance on failure, got index %d", got)
	}
	if s.QuestionsAnswered() != 0 {
		t.Fatalf("failed submission must not count")
	}

	// Retrying the turn succeeds and advances.
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("start retry: %v", err)
	}
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("stop retry: %v", err)
	}
	if got := s.CurrentQuestion().Index; got != 1 {
		t.Fatalf("expected index 1 after retry, got %d", got)
	}
}

func TestSession_ServerIndexNeverDecreases(t *testing.T) {
	backend := twoQuestionBackend()
	// First turn advances to index 1, second turn replies with a stale index 0.
	backend.submissions = []protocol.SubmissionResult{
		{NextQuestion: "What is UDP?", QuestionIndex: 1},
		{NextQuestion: "Stale question", QuestionIndex: 0},
	}
	s := NewSession(backend, &fakeRecorder{}, nil, Callbacks{})
	defer s.Close()
	ctx := context.Background()
	if err := s.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.StartRecording(ctx); err != nil {
			t.Fatalf("start %d: %v", i, err)
		}
		if err := s.StopRecording(ctx); err != nil {
			t.Fatalf("stop %d: %v", i, err)
		}
	}
	if got := s.CurrentQuestion().Index; got != 1 {
		t.Fatalf("index regressed to %d", got)
	}
}

func TestSession_PlaybackFailureDoesNotBlockFlow(t *testing.T) {
	events := &recordedEvents{}
	player := &fakePlayer{err: errors.New("no output device")}
	s := NewSession(twoQuestionBackend(), &fakeRecorder{}, player, events.callbacks())
	defer s.Close()

	if err := s.Begin(context.Background(), 1); err != nil {
		t.Fatalf("begin must succeed despite playback failure: %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", s.Phase())
	}
	events.mu.Lock()
	reported := len(events.errs)
	events.mu.Unlock()
	if reported == 0 {
		t.Fatalf("playback failure should be reported via OnError")
	}
	if err := s.StartRecording(context.Background()); err != nil {
		t.Fatalf("recording must still work: %v", err)
	}
}

func TestSession_CompletionRetriesThenSucceeds(t *testing.T) {
	backend := twoQuestionBackend()
	backend.submissions = []protocol.SubmissionResult{{IsComplete: true, QuestionIndex: 0}}
	flaky := 0
	backend.completeErr = errors.New("timeout")
	s := NewSession(backend, &fakeRecorder{}, nil, Callbacks{}).WithSettleDelay(time.Millisecond)
	defer s.Close()
	ctx := context.Background()
	if err := s.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	// Fail twice, then succeed on the third attempt.
	go func() {
		for {
			backend.mu.Lock()
			flaky = backend.completeCalls
			if flaky >= 2 {
				backend.completeErr = nil
				backend.mu.Unlock()
				return
			}
			backend.mu.Unlock()
			time.Sleep(10 * time.Millisecond)
		}
	}()

	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.StopRecording(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !s.Finished() {
		t.Fatalf("expected finished session after retries")
	}
	backend.mu.Lock()
	calls := backend.completeCalls
	backend.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected retries, got %d calls", calls)
	}
}

func TestSession_CompletionExhaustionStaysCompleting(t *testing.T) {
	backend := twoQuestionBackend()
	backend.submissions = []protocol.SubmissionResult{{IsComplete: true, QuestionIndex: 0}}
	backend.completeErr = errors.New("backend down")
	events := &recordedEvents{}
	s := NewSession(backend, &fakeRecorder{}, nil, events.callbacks()).WithSettleDelay(time.Millisecond)
	defer s.Close()
	ctx := context.Background()
	if err := s.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := s.StopRecording(ctx)
	var cerr *CompletionError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected *CompletionError, got %v", err)
	}
	if s.Finished() {
		t.Fatalf("session must not report finished")
	}
	if s.Phase() != PhaseCompleting {
		t.Fatalf("expected completing, got %s", s.Phase())
	}
	if backend.completeCalls != 3 {
		t.Fatalf("expected 3 attempts, got %d", backend.completeCalls)
	}
}

func TestSession_CloseSuppressesLateTransitions(t *testing.T) {
	backend := twoQuestionBackend()
	events := &recordedEvents{}
	s := NewSession(backend, &fakeRecorder{}, nil, events.callbacks())
	if err := s.Begin(context.Background(), 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s.Close()
	s.Close() // idempotent

	before := len(events.phaseList())
	if err := s.StartRecording(context.Background()); err == nil {
		t.Fatalf("recording on a closed session must fail")
	}
	if got := len(events.phaseList()); got != before {
		t.Fatalf("closed session must not emit phase changes")
	}
}

func TestSession_StopWithoutStartRejected(t *testing.T) {
	s := NewSession(twoQuestionBackend(), &fakeRecorder{}, nil, Callbacks{})
	defer s.Close()
	if err := s.Begin(context.Background(), 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.StopRecording(context.Background()); err == nil {
		t.Fatalf("expected error stopping while idle")
	}
}

func TestSession_EmptyRecordingAbortsTurn(t *testing.T) {
	rec := &fakeRecorder{stopErr: fmt.Errorf("finalize: %w", capture.ErrEmptyRecording)}
	s := NewSession(twoQuestionBackend(), rec, nil, Callbacks{})
	defer s.Close()
	ctx := context.Background()
	if err := s.Begin(ctx, 1); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.StartRecording(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	err := s.StopRecording(ctx)
	if !errors.Is(err, capture.ErrEmptyRecording) {
		t.Fatalf("expected empty-recording error, got %v", err)
	}
	if s.Phase() != PhaseIdle {
		t.Fatalf("expected idle, got %s", s.Phase())
	}
	if s.QuestionsAnswered() != 0 {
		t.Fatalf("nothing should have been submitted")
	}
}
