// Package transcript assembles interim and final transcript fragments for one
// utterance and parses the transcript payloads emitted by STT backends.
package transcript

import "strings"

// Accumulator holds the fragments of the utterance currently being
// recognized. Final fragments keep arrival order; at most one interim
// fragment is pending at a time.
//
// Not safe for concurrent use; call sessions own one accumulator per listen
// window.
type Accumulator struct {
	finals  []string
	interim string
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{}
}

// OnInterim replaces the pending interim fragment.
func (a *Accumulator) OnInterim(text string) {
	a.interim = text
}

// OnFinal appends text to the final fragments and clears the pending interim,
// which the final supersedes.
func (a *Accumulator) OnFinal(text string) {
	if t := strings.TrimSpace(text); t != "" {
		a.finals = append(a.finals, t)
	}
	a.interim = ""
}

// Finalize promotes a pending interim fragment to final, joins all fragments
// with a single space and resets the accumulator.
func (a *Accumulator) Finalize() string {
	if t := strings.TrimSpace(a.interim); t != "" {
		a.finals = append(a.finals, t)
	}
	joined := strings.Join(a.finals, " ")
	a.finals = nil
	a.interim = ""
	return joined
}

// Finals returns a copy of the final fragments received so far.
func (a *Accumulator) Finals() []string {
	return append([]string(nil), a.finals...)
}

// Interim returns the pending interim fragment.
func (a *Accumulator) Interim() string {
	return a.interim
}

// Empty reports whether no fragment is held.
func (a *Accumulator) Empty() bool {
	return len(a.finals) == 0 && strings.TrimSpace(a.interim) == ""
}
