package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/audio"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/protocol"
)

// State is the room connection lifecycle, independent of interview phases.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// RealtimeConnectionError wraps room-level failures. They are logged and
// surfaced via connection state only; nothing here may corrupt the interview
// flow.
type RealtimeConnectionError struct{ Err error }

func (e *RealtimeConnectionError) Error() string { return "realtime connection: " + e.Err.Error() }
func (e *RealtimeConnectionError) Unwrap() error { return e.Err }

// RealtimeBackend is the slice of the session protocol the controller
// consumes. Satisfied by *protocol.Client.
type RealtimeBackend interface {
	CreateRealtimeSession(ctx context.Context, opts protocol.RealtimeSessionOptions) (protocol.RealtimeSessionInfo, error)
	StopRealtimeSession(ctx context.Context, req protocol.StopRealtimeRequest) error
	SendAvatarControlMessage(ctx context.Context, sessionToken, text string) error
}

// Callbacks observe the controller. All optional.
type Callbacks struct {
	// OnReady fires once per connection, after the post-connect settling
	// delay, when the avatar can accept control messages.
	OnReady func()
	OnState func(State)
	// OnAudioBlocked fires when remote audio could not start because output
	// is gated; the user-facing "enable audio" affordance hangs off this.
	OnAudioBlocked func()
}

// controlMessage is the avatar speak command published on the control topic.
type controlMessage struct {
	EventType string `json:"event_type"`
	Data      struct {
		Text string `json:"text"`
	} `json:"data"`
}

// Controller manages the real-time avatar session: backend credentials, room
// connection, remote audio attachment with the gated-output fallback, and
// control messaging. It runs concurrently with the interview session and
// shares no phase state with it.
type Controller struct {
	backend RealtimeBackend
	newRoom func(sink audio.PCMSink) Room
	cb      Callbacks
	opts    protocol.RealtimeSessionOptions

	readyDelay time.Duration

	mu      sync.Mutex
	state   State
	room    Room
	sink    *audio.GatedSink
	info    *protocol.RealtimeSessionInfo
	dispTok int
}

// NewController wires the controller. output is the raw speaker sink; it is
// wrapped in a gate that buffers audio until EnableAudio when startSuspended
// is set (the autoplay-policy analog).
func NewController(backend RealtimeBackend, output audio.PCMSink, startSuspended bool, opts protocol.RealtimeSessionOptions, cb Callbacks) *Controller {
	c := &Controller{
		backend:    backend,
		cb:         cb,
		opts:       opts,
		readyDelay: 500 * time.Millisecond,
		state:      StateDisconnected,
	}
	if output == nil {
		output = audio.NopSink{}
	}
	c.sink = audio.NewGatedSink(output, startSuspended, func() {
		if cb.OnAudioBlocked != nil {
			cb.OnAudioBlocked()
		}
	})
	c.newRoom = NewRoom
	return c
}

// WithRoomFactory overrides room construction.
func (c *Controller) WithRoomFactory(f func(sink audio.PCMSink) Room) *Controller {
	c.newRoom = f
	return c
}

// WithReadyDelay overrides the post-connect settling delay.
func (c *Controller) WithReadyDelay(d time.Duration) *Controller {
	c.readyDelay = d
	return c
}

// Connect requests a realtime session (reusing a still-cached token from an
// earlier attempt) and opens the room. A *protocol.ConcurrencyLimitError
// passes through untouched and is never retried here; the user decides when
// to try again.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return errors.New("realtime session already active")
	}
	c.state = StateConnecting
	info := c.info
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	if info == nil {
		created, err := c.backend.CreateRealtimeSession(ctx, c.opts)
		if err != nil {
			c.setState(StateDisconnected)
			// *protocol.ConcurrencyLimitError passes through as-is so
			// callers can show "too many sessions, try later".
			return err
		}
		info = &created
		c.mu.Lock()
		c.info = info
		c.mu.Unlock()
	}

	room := c.newRoom(c.sink)
	creds := Credentials{SignalURL: signalURL(info), Token: info.RoomToken, RoomName: info.RoomName}
	if err := room.Connect(ctx, creds); err != nil {
		_ = room.Close()
		c.setState(StateDisconnected)
		return &RealtimeConnectionError{Err: err}
	}

	c.mu.Lock()
	c.room = room
	c.dispTok++
	tok := c.dispTok
	c.mu.Unlock()
	go c.dispatch(room, tok)
	return nil
}

// signalURL prefers the dedicated signaling endpoint and falls back to the
// room URL.
func signalURL(info *protocol.RealtimeSessionInfo) string {
	if info.SignalURL != "" {
		return info.SignalURL
	}
	return info.RoomURL
}

// dispatch is the single loop translating room events into controller
// behavior. It exits when the room's event stream ends or a newer connection
// supersedes this one.
func (c *Controller) dispatch(room Room, tok int) {
	for ev := range room.Events() {
		if !c.current(tok) {
			return
		}
		switch ev.Kind {
		case EventConnected:
			c.setState(StateConnected)
			// The remote media pipeline needs a moment before it
			// accepts commands.
			time.AfterFunc(c.readyDelay, func() {
				if c.current(tok) && c.State() == StateConnected && c.cb.OnReady != nil {
					c.cb.OnReady()
				}
			})
		case EventDisconnected:
			// No automatic reconnect.
			c.setState(StateDisconnected)
		case EventTrack:
			log.Printf("avatar: subscribed remote track codec=%s", ev.Track)
		case EventData:
			log.Printf("avatar: data message on %q: %s", ev.Topic, string(ev.Data))
		case EventError:
			log.Printf("avatar: %v", &RealtimeConnectionError{Err: ev.Err})
		}
	}
}

// Speak publishes an avatar.speak_text control message. Not connected is a
// warn-and-noop, not a failure: speak requests may race connection teardown.
func (c *Controller) Speak(text string) {
	c.mu.Lock()
	room := c.room
	state := c.state
	c.mu.Unlock()
	if room == nil || state != StateConnected {
		log.Printf("avatar: speak dropped, room not connected (state=%s)", state)
		return
	}
	var msg controlMessage
	msg.EventType = "avatar.speak_text"
	msg.Data.Text = text
	payload, err := json.Marshal(msg)
	if err != nil {
		log.Printf("avatar: encode speak: %v", err)
		return
	}
	if err := room.Publish(controlTopic, payload); err != nil {
		log.Printf("avatar: publish speak: %v", err)
	}
}

// EnableAudio resumes gated output and replays audio buffered while blocked.
func (c *Controller) EnableAudio() { c.sink.Enable() }

// AudioBlocked reports whether remote audio is currently gated.
func (c *Controller) AudioBlocked() bool { return c.sink.Suspended() }

// Disconnect tears the room down, stops the backend session best-effort, and
// clears the cached token so a later Connect starts fresh. Idempotent:
// disconnecting while disconnected is a no-op.
func (c *Controller) Disconnect(ctx context.Context) {
	c.mu.Lock()
	room := c.room
	info := c.info
	c.room = nil
	c.info = nil
	c.dispTok++
	alreadyDown := c.state == StateDisconnected && room == nil
	c.mu.Unlock()
	if alreadyDown {
		return
	}
	if room != nil {
		_ = room.Close()
	}
	if info != nil {
		req := protocol.StopRealtimeRequest{SessionToken: info.SessionToken, SessionID: info.SessionID}
		if err := c.backend.StopRealtimeSession(ctx, req); err != nil {
			log.Printf("avatar: stop session: %v", err)
		}
	}
	c.sink.Reset()
	c.setState(StateDisconnected)
}

// State returns the connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionToken returns the cached realtime session token, empty when none.
func (c *Controller) SessionToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.info == nil {
		return ""
	}
	return c.info.SessionToken
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()
	c.notifyState(s)
}

func (c *Controller) notifyState(s State) {
	if c.cb.OnState != nil {
		c.cb.OnState(s)
	}
}

// current reports whether a dispatch loop token still owns the connection.
func (c *Controller) current(tok int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tok == c.dispTok
}
