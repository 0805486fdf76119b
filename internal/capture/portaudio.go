package capture

import (
	"fmt"
	"log"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// MicSource reads 10ms mono frames from the default input device via
// PortAudio. One Open/Close cycle per recording; the device is held only while
// open.
type MicSource struct {
	sampleRate   int
	frameSamples int

	mu     sync.Mutex
	stream *portaudio.Stream
	frames chan []int16
	stopCh chan struct{}
}

// NewMicSource builds a source at the capture rate the backend expects
// (16kHz mono, 10ms frames).
func NewMicSource() *MicSource {
	return &MicSource{sampleRate: captureSampleRate, frameSamples: captureSampleRate / 100}
}

// Open initializes PortAudio, opens and starts the default input stream, and
// begins pumping frames.
func (m *MicSource) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream != nil {
		return fmt.Errorf("mic source already open")
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]int16, m.frameSamples)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), m.frameSamples, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start input stream: %w", err)
	}
	m.stream = stream
	m.frames = make(chan []int16, 64)
	m.stopCh = make(chan struct{})

	go func(frames chan []int16, stopCh chan struct{}) {
		defer close(frames)
		for {
			select {
			case <-stopCh:
				return
			default:
			}
			if err := stream.Read(); err != nil {
				log.Printf("mic source: read: %v", err)
				return
			}
			frame := make([]int16, len(buf))
			copy(frame, buf)
			select {
			case frames <- frame:
			default:
				// Drop the frame rather than stall the device callback.
			}
		}
	}(m.frames, m.stopCh)
	return nil
}

// Frames returns the current frame channel. Nil before Open.
func (m *MicSource) Frames() <-chan []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.frames
}

// Close stops the stream and releases the device. Safe to call when closed.
func (m *MicSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stream == nil {
		return nil
	}
	close(m.stopCh)
	err := m.stream.Stop()
	if cerr := m.stream.Close(); err == nil {
		err = cerr
	}
	if terr := portaudio.Terminate(); err == nil {
		err = terr
	}
	m.stream = nil
	m.frames = nil
	m.stopCh = nil
	return err
}
