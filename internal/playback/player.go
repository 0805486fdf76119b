package playback

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/audio"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/capture"
	"github.com/AfsalAfzz-Pro/virtual-reviewer-client/internal/protocol"
)

// Synthesizer resolves text to synthesized speech. Satisfied by
// *protocol.Client.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text string) (protocol.SpeechResult, error)
}

// PlaybackError reports any speech playback failure: synthesis, fetch, decode
// or output. Playback failures are never fatal to the interview flow; the
// question text remains visible, so orchestrators log and move on.
type PlaybackError struct{ Err error }

func (e *PlaybackError) Error() string { return "playback: " + e.Err.Error() }
func (e *PlaybackError) Unwrap() error { return e.Err }

// Player turns question text into audible speech: synthesize, resolve the URL
// or inline payload, decode, and feed the PCM sink until done.
type Player struct {
	synth Synthesizer
	sink  audio.PCMSink
	fetch *http.Client
}

func NewPlayer(synth Synthesizer, sink audio.PCMSink) *Player {
	return &Player{synth: synth, sink: sink, fetch: &http.Client{Timeout: 30 * time.Second}}
}

// Speak synthesizes and plays text, blocking until playback finished, the
// context was canceled, or playback failed.
func (p *Player) Speak(ctx context.Context, text string) error {
	res, err := p.synth.SynthesizeSpeech(ctx, text)
	if err != nil {
		return &PlaybackError{Err: err}
	}
	data, err := p.resolve(ctx, res)
	if err != nil {
		return &PlaybackError{Err: err}
	}
	samples, rate, ok := capture.DecodeWAV(data)
	if !ok {
		return &PlaybackError{Err: fmt.Errorf("unsupported audio payload (%d bytes)", len(data))}
	}
	if len(samples) == 0 {
		return nil
	}
	pcm48 := resampleTo48k(samples, rate)
	p.sink.WritePCM(int16ToBytes(pcm48))
	p.sink.FlushTail()

	dur := time.Duration(len(pcm48)) * time.Second / audio.SampleRate
	select {
	case <-ctx.Done():
		p.sink.Reset()
		return &PlaybackError{Err: ctx.Err()}
	case <-time.After(dur + 100*time.Millisecond):
		return nil
	}
}

// resolve picks the URL or the inline payload, per the backend contract where
// either may be present.
func (p *Player) resolve(ctx context.Context, res protocol.SpeechResult) ([]byte, error) {
	if res.AudioURL != "" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, res.AudioURL, nil)
		if err != nil {
			return nil, err
		}
		resp, err := p.fetch.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch audio: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, fmt.Errorf("fetch audio: status=%d", resp.StatusCode)
		}
		return io.ReadAll(resp.Body)
	}
	data, err := base64.StdEncoding.DecodeString(res.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("decode inline audio: %w", err)
	}
	return data, nil
}

// resampleTo48k linearly interpolates mono PCM up or down to the sink rate.
func resampleTo48k(in []int16, rate int) []int16 {
	if rate == audio.SampleRate || rate <= 0 || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(audio.SampleRate) / int64(rate))
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * float64(rate) / float64(audio.SampleRate)
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-frac) + float64(in[j+1])*frac)
	}
	return out
}

func int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := uint16(s)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}
