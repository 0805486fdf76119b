package capture

import "math"

// levelMeter tracks voice energy over captured frames. A frame counts as
// speech when its RMS crosses the threshold in a majority of the recent
// smoothing window, which keeps one-sample pops from marking silence as voice.
type levelMeter struct {
	threshold float64
	smoothN   int
	win       []bool
}

func newLevelMeter() *levelMeter { return &levelMeter{threshold: 300.0, smoothN: 4} }

// observe returns the frame RMS and whether the smoothed window votes speech.
func (m *levelMeter) observe(frame []int16) (float64, bool) {
	if len(frame) == 0 {
		return 0, false
	}
	var sum float64
	for _, s := range frame {
		f := float64(s)
		sum += f * f
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	m.win = append(m.win, rms >= m.threshold)
	if len(m.win) > m.smoothN {
		m.win = m.win[len(m.win)-m.smoothN:]
	}
	trueCount := 0
	for _, x := range m.win {
		if x {
			trueCount++
		}
	}
	return rms, trueCount*2 >= len(m.win)
}
