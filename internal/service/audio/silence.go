package audio

import "time"

// DefaultSilenceThreshold is the RMS level below which a frame counts as silence.
const DefaultSilenceThreshold = 0.02

// DefaultSilenceDuration is how long energy must stay below the threshold
// before silence is declared.
const DefaultSilenceDuration = time.Second

// SilenceDetector tracks how long the incoming energy has stayed below a
// threshold. It has two logical states: speaking (no silence start recorded)
// and possibly silent (silence start recorded).
//
// Not safe for concurrent use; each call session owns its own detector.
type SilenceDetector struct {
	threshold        float64
	duration         time.Duration
	silenceStartedAt time.Time
	silent           bool
}

// NewSilenceDetector creates a detector in the speaking state. Non-positive
// arguments fall back to the defaults.
func NewSilenceDetector(threshold float64, duration time.Duration) *SilenceDetector {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	if duration <= 0 {
		duration = DefaultSilenceDuration
	}
	return &SilenceDetector{threshold: threshold, duration: duration}
}

// Observe feeds one energy value measured at t. It returns true exactly when
// the silence span exceeds the configured duration. After firing, the silence
// clock restarts at t so the signal does not repeat on every following frame.
func (d *SilenceDetector) Observe(energy float64, t time.Time) bool {
	if energy >= d.threshold {
		d.silent = false
		d.silenceStartedAt = time.Time{}
		return false
	}

	if !d.silent {
		d.silent = true
		d.silenceStartedAt = t
		return false
	}

	if t.Sub(d.silenceStartedAt) > d.duration {
		d.silenceStartedAt = t
		return true
	}
	return false
}

// Reset returns the detector to the speaking state.
func (d *SilenceDetector) Reset() {
	d.silent = false
	d.silenceStartedAt = time.Time{}
}

// Silent reports whether the detector is inside a below-threshold span.
func (d *SilenceDetector) Silent() bool {
	return d.silent
}

// SilenceStartedAt returns the start of the current silent span, or the zero
// time while speaking.
func (d *SilenceDetector) SilenceStartedAt() time.Time {
	return d.silenceStartedAt
}

// Threshold returns the configured energy threshold.
func (d *SilenceDetector) Threshold() float64 {
	return d.threshold
}

// Duration returns the configured silence duration.
func (d *SilenceDetector) Duration() time.Duration {
	return d.duration
}
