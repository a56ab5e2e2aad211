package media

import (
	"math"
)

// Analyser window and bin counts. The window covers the most recent 32 ms of
// audio; magnitudes are folded into a small number of coarse bins scaled to
// the 0-255 range.
const (
	AnalyserWindow = 512
	AnalyserBins   = 32
)

// Decibel range mapped onto the 0-255 bin scale. Magnitudes at or below the
// floor read as 0, at or above the ceiling as 255.
const (
	minDecibels = -100.0
	maxDecibels = -30.0
)

// Analyser computes amplitude statistics over a track's recent samples. It
// is the polling half of voice-activity detection and the lobby level meter.
type Analyser struct {
	track *Track
}

// NewAnalyser creates an analyser bound to an audio track.
func NewAnalyser(track *Track) *Analyser {
	return &Analyser{track: track}
}

// Track returns the analysed track
func (a *Analyser) Track() *Track {
	return a.track
}

// FrequencyBins returns coarse DFT magnitude bins over the most recent
// window, each scaled to 0-255.
func (a *Analyser) FrequencyBins() []byte {
	window := a.track.Recent(AnalyserWindow)
	bins := make([]byte, AnalyserBins)

	for k := 1; k <= AnalyserBins; k++ {
		var re, im float64
		for n, s := range window {
			angle := 2 * math.Pi * float64(k) * float64(n) / float64(len(window))
			re += float64(s) * math.Cos(angle)
			im -= float64(s) * math.Sin(angle)
		}
		// Normalize against full-scale PCM16, then map the decibel range
		// onto a byte so broadband signals read well above the noise floor.
		mag := math.Hypot(re, im) / (float64(len(window)) / 2) / math.MaxInt16
		if mag <= 0 {
			continue
		}
		db := 20 * math.Log10(mag)
		v := (db - minDecibels) / (maxDecibels - minDecibels) * 255
		if v > 255 {
			v = 255
		} else if v < 0 {
			v = 0
		}
		bins[k-1] = byte(v)
	}
	return bins
}

// FrequencyAverage returns the mean of the frequency bins on the 0-255 scale.
func (a *Analyser) FrequencyAverage() float64 {
	bins := a.FrequencyBins()
	var sum float64
	for _, b := range bins {
		sum += float64(b)
	}
	return sum / float64(len(bins))
}

// TimeDomainRMS returns the root-mean-square of the recent window normalized
// to the 0-1 range.
func (a *Analyser) TimeDomainRMS() float64 {
	window := a.track.Recent(AnalyserWindow)
	var energy float64
	for _, s := range window {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy/float64(len(window))) / math.MaxInt16
}
