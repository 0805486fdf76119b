package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/audio"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/protocol"
)

type fakeRealtimeBackend struct {
	mu          sync.Mutex
	createErr   error
	createCalls int
	stopCalls   int
	stopReqs    []protocol.StopRealtimeRequest
}

func (f *fakeRealtimeBackend) CreateRealtimeSession(ctx context.Context, opts protocol.RealtimeSessionOptions) (protocol.RealtimeSessionInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return protocol.RealtimeSessionInfo{}, f.createErr
	}
	return protocol.RealtimeSessionInfo{
		SessionToken: "tok-1",
		SessionID:    "rt-1",
		RoomURL:      "wss://rooms.example",
		RoomToken:    "room-token",
		RoomName:     "room-1",
	}, nil
}

func (f *fakeRealtimeBackend) StopRealtimeSession(ctx context.Context, req protocol.StopRealtimeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	f.stopReqs = append(f.stopReqs, req)
	return nil
}

func (f *fakeRealtimeBackend) SendAvatarControlMessage(ctx context.Context, sessionToken, text string) error {
	return nil
}

type fakeRoom struct {
	mu         sync.Mutex
	connectErr error
	creds      Credentials
	events     chan Event
	published  [][]byte
	closed     bool
}

func newFakeRoom() *fakeRoom {
	return &fakeRoom{events: make(chan Event, 8)}
}

func (f *fakeRoom) Connect(ctx context.Context, creds Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creds = creds
	return f.connectErr
}

func (f *fakeRoom) Events() <-chan Event { return f.events }

func (f *fakeRoom) Publish(topic string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, payload)
	return nil
}

func (f *fakeRoom) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeRoom) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newTestController(backend *fakeRealtimeBackend, room *fakeRoom, cb Callbacks) *Controller {
	return NewController(backend, audio.NopSink{}, false, protocol.RealtimeSessionOptions{AvatarID: "ava"}, cb).
		WithRoomFactory(func(sink audio.PCMSink) Room { return room }).
		WithReadyDelay(time.Millisecond)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if cond() {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestController_ConnectAndReady(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	var mu sync.Mutex
	ready := false
	var states []State
	ctrl := newTestController(backend, room, Callbacks{
		OnReady: func() { mu.Lock(); ready = true; mu.Unlock() },
		OnState: func(s State) { mu.Lock(); states = append(states, s); mu.Unlock() },
	})

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if room.creds.Token != "room-token" || room.creds.RoomName != "room-1" {
		t.Fatalf("unexpected credentials: %+v", room.creds)
	}

	room.events <- Event{Kind: EventConnected}
	waitFor(t, "connected state", func() bool { return ctrl.State() == StateConnected })
	waitFor(t, "ready callback", func() bool { mu.Lock(); defer mu.Unlock(); return ready })

	mu.Lock()
	got := append([]State(nil), states...)
	mu.Unlock()
	if len(got) < 2 || got[0] != StateConnecting || got[len(got)-1] != StateConnected {
		t.Fatalf("unexpected state sequence: %v", got)
	}
}

func TestController_ConnectWhileActiveRejected(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	ctrl := newTestController(backend, room, Callbacks{})
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ctrl.Connect(context.Background()); err == nil {
		t.Fatalf("expected second connect to fail")
	}
}

func TestController_ConcurrencyLimitPassesThroughUnretried(t *testing.T) {
	backend := &fakeRealtimeBackend{createErr: &protocol.ConcurrencyLimitError{Detail: "Concurrency limit reached"}}
	ctrl := newTestController(backend, newFakeRoom(), Callbacks{})

	err := ctrl.Connect(context.Background())
	var limit *protocol.ConcurrencyLimitError
	if !errors.As(err, &limit) {
		t.Fatalf("expected *ConcurrencyLimitError, got %v", err)
	}
	if backend.createCalls != 1 {
		t.Fatalf("concurrency limit must not be retried, got %d calls", backend.createCalls)
	}
	if ctrl.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", ctrl.State())
	}
}

func TestController_RoomConnectFailure(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	room.connectErr = errors.New("dial refused")
	ctrl := newTestController(backend, room, Callbacks{})

	err := ctrl.Connect(context.Background())
	var rerr *RealtimeConnectionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *RealtimeConnectionError, got %v", err)
	}
	if ctrl.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", ctrl.State())
	}
	// The credentials stay cached so the retry skips session creation.
	room.connectErr = nil
	room.closed = false
	room.events = make(chan Event, 8)
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("retry connect: %v", err)
	}
	if backend.createCalls != 1 {
		t.Fatalf("expected cached token reuse, got %d create calls", backend.createCalls)
	}
}

func TestController_SpeakPublishesControlMessage(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	ctrl := newTestController(backend, room, Callbacks{})
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	room.events <- Event{Kind: EventConnected}
	waitFor(t, "connected state", func() bool { return ctrl.State() == StateConnected })

	ctrl.Speak("Tell me about ARP.")
	waitFor(t, "published message", func() bool { return room.publishedCount() == 1 })

	room.mu.Lock()
	payload := room.published[0]
	room.mu.Unlock()
	var msg struct {
		EventType string `json:"event_type"`
		Data      struct {
			Text string `json:"text"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if msg.EventType != "avatar.speak_text" || msg.Data.Text != "Tell me about ARP." {
		t.Fatalf("unexpected control message: %+v", msg)
	}
}

func TestController_SpeakWhileDisconnectedIsNoop(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	ctrl := newTestController(backend, room, Callbacks{})

	ctrl.Speak("dropped")
	if room.publishedCount() != 0 {
		t.Fatalf("speak before connect must not publish")
	}
}

func TestController_DisconnectStopsSessionAndIsIdempotent(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	ctrl := newTestController(backend, room, Callbacks{})
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	room.events <- Event{Kind: EventConnected}
	waitFor(t, "connected state", func() bool { return ctrl.State() == StateConnected })

	ctrl.Disconnect(context.Background())
	if ctrl.State() != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", ctrl.State())
	}
	if !room.closed {
		t.Fatalf("room must be closed")
	}
	if backend.stopCalls != 1 {
		t.Fatalf("expected one stop call, got %d", backend.stopCalls)
	}
	if backend.stopReqs[0].SessionToken != "tok-1" {
		t.Fatalf("stop must carry the session token: %+v", backend.stopReqs[0])
	}
	if ctrl.SessionToken() != "" {
		t.Fatalf("token must be cleared after disconnect")
	}

	ctrl.Disconnect(context.Background())
	if backend.stopCalls != 1 {
		t.Fatalf("second disconnect must be a no-op, got %d stop calls", backend.stopCalls)
	}
}

func TestController_RemoteDisconnectNoAutoReconnect(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	ctrl := newTestController(backend, room, Callbacks{})
	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	room.events <- Event{Kind: EventConnected}
	waitFor(t, "connected state", func() bool { return ctrl.State() == StateConnected })

	room.events <- Event{Kind: EventDisconnected}
	waitFor(t, "disconnected state", func() bool { return ctrl.State() == StateDisconnected })
	if backend.createCalls != 1 {
		t.Fatalf("remote drop must not trigger reconnect, got %d create calls", backend.createCalls)
	}
}

func TestController_AudioGateNotifiesAndReplays(t *testing.T) {
	backend := &fakeRealtimeBackend{}
	room := newFakeRoom()
	var mu sync.Mutex
	blocked := 0
	ctrl := NewController(backend, audio.NopSink{}, true, protocol.RealtimeSessionOptions{}, Callbacks{
		OnAudioBlocked: func() { mu.Lock(); blocked++; mu.Unlock() },
	}).WithRoomFactory(func(sink audio.PCMSink) Room {
		// Simulate remote audio arriving while output is gated.
		sink.WritePCM([]byte{0, 1})
		sink.WritePCM([]byte{2, 3})
		return room
	}).WithReadyDelay(time.Millisecond)

	if err := ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if !ctrl.AudioBlocked() {
		t.Fatalf("expected gated audio before EnableAudio")
	}
	mu.Lock()
	n := blocked
	mu.Unlock()
	if n != 1 {
		t.Fatalf("blocked callback fired %d times, want once", n)
	}

	ctrl.EnableAudio()
	if ctrl.AudioBlocked() {
		t.Fatalf("audio must be enabled after EnableAudio")
	}
}
