package audio

import "sync"

// PCMSink consumes 48kHz little-endian mono PCM bytes and performs delivery.
// Implementations buffer internally and pace delivery themselves.
type PCMSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued audio immediately.
	Reset()
}

// NopSink discards audio. Used when no output device is wired.
type NopSink struct{}

func (NopSink) WritePCM(_ []byte) {}
func (NopSink) FlushTail()        {}
func (NopSink) Reset()            {}

// GatedSink wraps a sink whose output may not start until the user explicitly
// enables audio (the desktop analog of a browser autoplay block). While
// suspended, writes are buffered; Enable replays everything buffered so far
// and passes audio through from then on.
type GatedSink struct {
	inner PCMSink

	mu        sync.Mutex
	suspended bool
	pending   [][]byte
	onBlocked func()
	notified  bool
}

// NewGatedSink starts suspended when suspended is true. onBlocked fires once,
// on the first write that had to be buffered, so the caller can surface an
// "enable audio" affordance.
func NewGatedSink(inner PCMSink, suspended bool, onBlocked func()) *GatedSink {
	return &GatedSink{inner: inner, suspended: suspended, onBlocked: onBlocked}
}

func (g *GatedSink) WritePCM(pcm []byte) {
	g.mu.Lock()
	if g.suspended {
		buf := make([]byte, len(pcm))
		copy(buf, pcm)
		g.pending = append(g.pending, buf)
		notify := !g.notified && g.onBlocked != nil
		g.notified = true
		g.mu.Unlock()
		if notify {
			g.onBlocked()
		}
		return
	}
	g.mu.Unlock()
	g.inner.WritePCM(pcm)
}

func (g *GatedSink) FlushTail() {
	g.mu.Lock()
	suspended := g.suspended
	g.mu.Unlock()
	if !suspended {
		g.inner.FlushTail()
	}
}

func (g *GatedSink) Reset() {
	g.mu.Lock()
	g.pending = nil
	g.mu.Unlock()
	g.inner.Reset()
}

// Enable resumes output and replays any audio buffered while suspended.
// Idempotent.
func (g *GatedSink) Enable() {
	g.mu.Lock()
	if !g.suspended {
		g.mu.Unlock()
		return
	}
	g.suspended = false
	pending := g.pending
	g.pending = nil
	g.mu.Unlock()
	for _, buf := range pending {
		g.inner.WritePCM(buf)
	}
}

// Suspended reports whether output is currently gated.
func (g *GatedSink) Suspended() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.suspended
}
