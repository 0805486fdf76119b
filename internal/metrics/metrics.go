package metrics

import (
	"sync"
	"time"
)

// Metrics tracks client-side interview counters for the end-of-run summary.
type Metrics struct {
	mu               sync.RWMutex
	SessionsStarted  int64
	SessionsFinished int64
	QuestionsAsked   int64
	AnswersSubmitted int64
	PlaybackFailures int64
	APICallsTotal    int64
	APICallsOK       int64
	LastUpdateTime   time.Time
}

func New() *Metrics {
	return &Metrics{LastUpdateTime: time.Now()}
}

func (m *Metrics) IncrementSessionsStarted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsStarted++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementSessionsFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SessionsFinished++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementQuestionsAsked() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QuestionsAsked++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementAnswersSubmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AnswersSubmitted++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementPlaybackFailures() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PlaybackFailures++
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) IncrementAPICall(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.APICallsTotal++
	if success {
		m.APICallsOK++
	}
	m.LastUpdateTime = time.Now()
}

func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		SessionsStarted:  m.SessionsStarted,
		SessionsFinished: m.SessionsFinished,
		QuestionsAsked:   m.QuestionsAsked,
		AnswersSubmitted: m.AnswersSubmitted,
		PlaybackFailures: m.PlaybackFailures,
		APICallsTotal:    m.APICallsTotal,
		APICallsOK:       m.APICallsOK,
		LastUpdateTime:   m.LastUpdateTime,
	}
}
