package avatar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/audio"
)

// EventKind classifies room events delivered to the controller's dispatch
// loop.
type EventKind int

const (
	// EventConnected: the peer connection reached the connected state.
	EventConnected EventKind = iota
	// EventDisconnected: the peer connection dropped or closed.
	EventDisconnected
	// EventTrack: a remote track was subscribed and attached.
	EventTrack
	// EventData: an inbound data-channel message arrived.
	EventData
	// EventError: a non-fatal room error worth surfacing.
	EventError
)

// Event is one item on the room's typed event stream.
type Event struct {
	Kind  EventKind
	Topic string
	Data  []byte
	Track string
	Err   error
}

// Credentials hold everything needed for one room connection attempt.
type Credentials struct {
	SignalURL string
	Token     string
	RoomName  string
}

// Room is a real-time audio/video room connection: connect with credentials,
// consume typed events, publish data on named topics, tear down.
type Room interface {
	Connect(ctx context.Context, creds Credentials) error
	Events() <-chan Event
	Publish(topic string, payload []byte) error
	Close() error
}

// controlTopic is the data-channel label used for avatar control messages.
const controlTopic = "control"

// signalMessage mirrors the signaling server's wire format: offer/answer plus
// trickle ICE.
type signalMessage struct {
	Type          string  `json:"type"`
	Password      string  `json:"password,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// webrtcRoom connects to the avatar room over WebSocket signaling and a pion
// peer connection, decodes the remote opus audio track into the sink, and
// forwards room activity as events.
type webrtcRoom struct {
	sink audio.PCMSink

	mu     sync.Mutex
	conn   *websocket.Conn
	pc     *webrtc.PeerConnection
	dc     *webrtc.DataChannel
	events chan Event
	closed bool
}

// NewRoom builds a room that attaches remote audio to sink.
func NewRoom(sink audio.PCMSink) Room {
	if sink == nil {
		sink = audio.NopSink{}
	}
	return &webrtcRoom{sink: sink, events: make(chan Event, 32)}
}

// Connect dials the signaling socket, performs auth -> offer -> answer with
// trickle ICE, and registers track/data/state handlers.
func (r *webrtcRoom) Connect(ctx context.Context, creds Credentials) error {
	r.mu.Lock()
	if r.pc != nil {
		r.mu.Unlock()
		return errors.New("room already connected")
	}
	r.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := http.Header{}
	if creds.Token != "" {
		header.Set("Authorization", "Bearer "+creds.Token)
	}
	wsURL := creds.SignalURL
	if creds.RoomName != "" {
		sep := "?"
		if strings.Contains(wsURL, "?") {
			sep = "&"
		}
		wsURL += sep + "room=" + creds.RoomName
	}
	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("signal dial: status=%d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("signal dial: %w", err)
	}

	pc, err := r.buildPeer()
	if err != nil {
		_ = conn.Close()
		return err
	}

	r.mu.Lock()
	r.conn = conn
	r.pc = pc
	r.mu.Unlock()

	// Control channel is client-created; the remote side answers with its
	// own end of the same label.
	dc, err := pc.CreateDataChannel(controlTopic, nil)
	if err != nil {
		r.teardown()
		return fmt.Errorf("create data channel: %w", err)
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		r.emit(Event{Kind: EventData, Topic: controlTopic, Data: msg.Data})
	})
	r.mu.Lock()
	r.dc = dc
	r.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		r.writeSignal(signalMessage{Type: "candidate", Candidate: init.Candidate, SDPMid: init.SDPMid, SDPMLineIndex: init.SDPMLineIndex})
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			r.emit(Event{Kind: EventConnected})
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			r.emit(Event{Kind: EventDisconnected})
		}
	})
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		r.emit(Event{Kind: EventTrack, Track: remote.Codec().MimeType})
		if remote.Kind() == webrtc.RTPCodecTypeAudio {
			go r.pumpAudio(remote)
		}
	})

	// Receive-only media; the avatar publishes, we listen.
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		r.teardown()
		return err
	}
	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
		r.teardown()
		return err
	}

	if creds.Token != "" {
		r.writeSignal(signalMessage{Type: "auth", Password: creds.Token})
	}

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		r.teardown()
		return err
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		r.teardown()
		return err
	}
	r.writeSignal(signalMessage{Type: "offer", SDP: offer.SDP})

	// Wait for the answer before handing the socket to the reader loop.
	answer, err := r.awaitAnswer(ctx, conn, pc)
	if err != nil {
		r.teardown()
		return err
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}); err != nil {
		r.teardown()
		return err
	}

	go r.readSignals(conn, pc)
	return nil
}

func (r *webrtcRoom) buildPeer() (*webrtc.PeerConnection, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))
	return api.NewPeerConnection(webrtc.Configuration{ICEServers: []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}})
}

func (r *webrtcRoom) awaitAnswer(ctx context.Context, conn *websocket.Conn, pc *webrtc.PeerConnection) (string, error) {
	deadline := time.Now().Add(15 * time.Second)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetReadDeadline(deadline)
	defer conn.SetReadDeadline(time.Time{})
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return "", fmt.Errorf("awaiting answer: %w", err)
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "answer":
			if m.SDP == "" {
				return "", errors.New("empty answer sdp")
			}
			return m.SDP, nil
		case "candidate":
			// Remote candidates may trickle in before the answer lands.
			_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
		case "error":
			return "", fmt.Errorf("signal error: %s", m.Error)
		}
	}
}

// readSignals consumes post-answer signaling: trickle candidates and bye.
func (r *webrtcRoom) readSignals(conn *websocket.Conn, pc *webrtc.PeerConnection) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var m signalMessage
		if json.Unmarshal(data, &m) != nil {
			continue
		}
		switch strings.ToLower(m.Type) {
		case "candidate":
			if m.Candidate == "" {
				continue
			}
			_ = pc.AddICECandidate(webrtc.ICECandidateInit{Candidate: m.Candidate, SDPMid: m.SDPMid, SDPMLineIndex: m.SDPMLineIndex})
		case "bye":
			_ = pc.Close()
			return
		case "error":
			r.emit(Event{Kind: EventError, Err: errors.New(m.Error)})
		}
	}
}

// pumpAudio decodes the remote opus track and writes PCM into the sink.
func (r *webrtcRoom) pumpAudio(remote *webrtc.TrackRemote) {
	dec, err := opus.NewDecoder(audio.SampleRate, 1)
	if err != nil {
		r.emit(Event{Kind: EventError, Err: fmt.Errorf("opus decoder: %w", err)})
		return
	}
	samples := make([]int16, 1920)
	pcm := make([]byte, 0, 3840)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, samples)
		if decErr != nil {
			continue
		}
		pcm = pcm[:0]
		for i := 0; i < n; i++ {
			v := uint16(samples[i])
			pcm = append(pcm, byte(v), byte(v>>8))
		}
		r.sink.WritePCM(pcm)
	}
}

func (r *webrtcRoom) writeSignal(m signalMessage) {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.WriteJSON(m); err != nil {
		log.Printf("room: signal write: %v", err)
	}
}

// Events returns the room's event stream.
func (r *webrtcRoom) Events() <-chan Event { return r.events }

// Publish sends a payload on a named data topic.
func (r *webrtcRoom) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	dc := r.dc
	r.mu.Unlock()
	if dc == nil || topic != controlTopic {
		return fmt.Errorf("no data channel for topic %q", topic)
	}
	if dc.ReadyState() != webrtc.DataChannelStateOpen {
		return fmt.Errorf("data channel %q not open", topic)
	}
	return dc.Send(payload)
}

// Close tears the connection down and ends the event stream. Safe to call
// repeatedly.
func (r *webrtcRoom) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	r.mu.Unlock()
	r.teardown()
	return nil
}

func (r *webrtcRoom) teardown() {
	r.mu.Lock()
	conn, pc := r.conn, r.pc
	r.conn, r.pc, r.dc = nil, nil, nil
	r.mu.Unlock()
	if conn != nil {
		_ = conn.WriteJSON(signalMessage{Type: "bye"})
		_ = conn.Close()
	}
	if pc != nil {
		_ = pc.Close()
	}
}

func (r *webrtcRoom) emit(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	select {
	case r.events <- ev:
	default:
		// Slow consumer: drop rather than stall media callbacks.
	}
}
