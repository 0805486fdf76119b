package capture

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// Source provides mono PCM frames from a capture device. Open acquires the
// device, Frames yields 10ms frames until Close releases the device and closes
// the channel.
type Source interface {
	Open() error
	Frames() <-chan []int16
	Close() error
}

// ErrAlreadyRecording is returned by Start while a recording is in flight.
// Policy: starting twice is a failure, not a no-op, so callers cannot silently
// interleave two utterances.
var ErrAlreadyRecording = errors.New("recording already in progress")

// ErrEmptyRecording is returned by Stop when no voiced audio was captured.
var ErrEmptyRecording = errors.New("no audio captured")

// MicrophoneAccessError wraps a device acquisition failure.
type MicrophoneAccessError struct{ Err error }

func (e *MicrophoneAccessError) Error() string { return "microphone access: " + e.Err.Error() }
func (e *MicrophoneAccessError) Unwrap() error { return e.Err }

// Recording is one finalized utterance, encoded as a single WAV blob.
type Recording struct {
	Data       []byte
	MIME       string
	SampleRate int
	Duration   time.Duration
}

// Recorder manages the microphone capture lifecycle: idle -> recording -> idle.
// At most one recording is active at a time.
type Recorder struct {
	source  Source
	onLevel func(rms float64)

	mu        sync.Mutex
	recording bool
	samples   []int16
	voiced    bool
	meter     *levelMeter
	doneCh    chan struct{}
}

// NewRecorder wraps a capture source. onLevel, when non-nil, receives a
// smoothed RMS level per captured frame (for a mic meter); it is called from
// the capture goroutine.
func NewRecorder(source Source, onLevel func(rms float64)) *Recorder {
	return &Recorder{source: source, onLevel: onLevel}
}

// Start acquires the device and begins buffering frames. Fails with
// *MicrophoneAccessError when the device is unavailable and ErrAlreadyRecording
// when a recording is already active.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.recording {
		r.mu.Unlock()
		return ErrAlreadyRecording
	}
	r.recording = true
	r.samples = r.samples[:0]
	r.voiced = false
	r.meter = newLevelMeter()
	r.doneCh = make(chan struct{})
	r.mu.Unlock()

	if err := r.source.Open(); err != nil {
		r.mu.Lock()
		r.recording = false
		close(r.doneCh)
		r.mu.Unlock()
		return &MicrophoneAccessError{Err: err}
	}

	frames := r.source.Frames()
	go func() {
		defer close(r.doneCh)
		for {
			select {
			case <-ctx.Done():
				return
			case frame, ok := <-frames:
				if !ok {
					return
				}
				rms, speech := r.meter.observe(frame)
				r.mu.Lock()
				r.samples = append(r.samples, frame...)
				if speech {
					r.voiced = true
				}
				r.mu.Unlock()
				if r.onLevel != nil {
					r.onLevel(rms)
				}
			}
		}
	}()
	return nil
}

// Stop finalizes buffering, releases the device and yields exactly one WAV
// blob for the whole utterance. ErrEmptyRecording when nothing voiced arrived.
func (r *Recorder) Stop() (Recording, error) {
	r.mu.Lock()
	if !r.recording {
		r.mu.Unlock()
		return Recording{}, ErrEmptyRecording
	}
	done := r.doneCh
	r.mu.Unlock()

	if err := r.source.Close(); err != nil {
		log.Printf("recorder: source close: %v", err)
	}
	<-done

	r.mu.Lock()
	defer r.mu.Unlock()
	r.recording = false
	if len(r.samples) == 0 || !r.voiced {
		return Recording{}, ErrEmptyRecording
	}
	data := EncodeWAV(r.samples, captureSampleRate)
	dur := time.Duration(len(r.samples)) * time.Second / captureSampleRate
	out := Recording{Data: data, MIME: "audio/wav", SampleRate: captureSampleRate, Duration: dur}
	r.samples = nil
	return out, nil
}

// Recording reports whether a capture is currently active.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recording
}

const captureSampleRate = 16000
