package audio

import (
	"fmt"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	// SampleRate is the sink contract rate: 48kHz mono s16le.
	SampleRate = 48000

	frameSamples = 960 // 20ms at 48kHz
)

// SpeakerSink plays 48kHz mono PCM on the default output device. Frames are
// queued on a channel and drained by a writer goroutine; the blocking device
// write paces delivery.
type SpeakerSink struct {
	mu      sync.Mutex
	pcmBuf  []int16
	frames  chan []int16
	stopCh  chan struct{}
	stopped bool
}

// NewSpeakerSink opens and starts the output stream.
func NewSpeakerSink() (*SpeakerSink, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	out := make([]int16, frameSamples)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(SampleRate), frameSamples, out)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start output stream: %w", err)
	}
	s := &SpeakerSink{
		frames: make(chan []int16, 512),
		stopCh: make(chan struct{}),
	}
	go s.writer(stream, out)
	return s, nil
}

func (s *SpeakerSink) writer(stream *portaudio.Stream, out []int16) {
	defer func() {
		if err := stream.Stop(); err != nil {
			log.Printf("speaker: stop: %v", err)
		}
		_ = stream.Close()
		_ = portaudio.Terminate()
	}()
	for {
		select {
		case <-s.stopCh:
			return
		case frame := <-s.frames:
			copy(out, frame)
			if err := stream.Write(); err != nil {
				log.Printf("speaker: write: %v", err)
			}
		}
	}
}

// WritePCM buffers PCM bytes and emits full 20ms frames to the writer.
func (s *SpeakerSink) WritePCM(pcm []byte) {
	if len(pcm) < 2 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	need := len(pcm) / 2
	startLen := len(s.pcmBuf)
	if cap(s.pcmBuf)-startLen < need {
		tmp := make([]int16, startLen, startLen+need+2048)
		copy(tmp, s.pcmBuf)
		s.pcmBuf = tmp
	}
	s.pcmBuf = s.pcmBuf[:startLen+need]
	for i := 0; i < need; i++ {
		s.pcmBuf[startLen+i] = int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8)
	}
	for len(s.pcmBuf) >= frameSamples {
		frame := make([]int16, frameSamples)
		copy(frame, s.pcmBuf[:frameSamples])
		s.pushFrame(frame)
		copy(s.pcmBuf, s.pcmBuf[frameSamples:])
		s.pcmBuf = s.pcmBuf[:len(s.pcmBuf)-frameSamples]
	}
}

// FlushTail pads the remaining PCM to a full frame so short utterances are not
// clipped at the end.
func (s *SpeakerSink) FlushTail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || len(s.pcmBuf) == 0 {
		return
	}
	pad := make([]int16, frameSamples)
	copy(pad, s.pcmBuf)
	s.pcmBuf = s.pcmBuf[:0]
	s.pushFrame(pad)
}

// Reset drops all queued frames immediately.
func (s *SpeakerSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pcmBuf = s.pcmBuf[:0]
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}

// Close stops the writer and releases the device.
func (s *SpeakerSink) Close() {
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.stopCh)
	}
	s.mu.Unlock()
}

func (s *SpeakerSink) pushFrame(frame []int16) {
	select {
	case s.frames <- frame:
	default:
		// Queue full: drop the oldest frame to keep latency bounded.
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- frame:
		default:
		}
	}
}
