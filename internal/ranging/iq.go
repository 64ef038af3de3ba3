// Package ranging derives distance-related outputs from a paired initiator and
// reflector subevent: impulse response, MUSIC delay spectrum, phase trend and
// per-channel tone magnitude. Every function is pure; inputs are never
// modified.
package ranging

import (
	"sort"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"gonum.org/v1/gonum/cmplxs"
)

// Series maps an index (spectral bin or CS channel) to a value.
type Series map[int]float64

// Keys returns the indices in ascending order.
func (s Series) Keys() []int {
	keys := make([]int, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Values returns the values ordered by ascending index.
func (s Series) Values() []float64 {
	keys := s.Keys()
	out := make([]float64, len(keys))
	for i, k := range keys {
		out[i] = s[k]
	}
	return out
}

// ChannelIQ holds one averaged I/Q sample per CS channel.
type ChannelIQ map[uint8]complex128

// AverageIQ averages the tones of every mode 2 step, skipping tones flagged
// ExtensionNotExpected. A step without a usable tone contributes nothing. When
// several steps share a channel the last one wins.
func AverageIQ(r *cs.SubeventResults) ChannelIQ {
	out := make(ChannelIQ)
	if r == nil {
		return out
	}
	for _, step := range r.Steps {
		m2, ok := step.(*cs.Mode2Step)
		if !ok {
			continue
		}
		var sumI, sumQ float64
		n := 0
		for _, tone := range m2.Tones {
			if tone.ExtensionSlot == cs.ExtensionNotExpected {
				continue
			}
			sumI += float64(tone.PctI)
			sumQ += float64(tone.PctQ)
			n++
		}
		if n == 0 {
			continue
		}
		out[m2.Channel] = complex(sumI/float64(n), sumQ/float64(n))
	}
	return out
}

// commonChannels returns the channels present in both maps, ascending.
func commonChannels(a, b ChannelIQ) []uint8 {
	var out []uint8
	for ch := range a {
		if _, ok := b[ch]; ok {
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ChannelResponse multiplies the initiator and reflector samples on every
// channel both radios measured, which cancels the shared local oscillator
// phase. The channels are returned ascending alongside the response.
func ChannelResponse(initiator, reflector *cs.SubeventResults) ([]uint8, []complex128) {
	ini, ref := AverageIQ(initiator), AverageIQ(reflector)
	channels := commonChannels(ini, ref)
	a := make([]complex128, len(channels))
	b := make([]complex128, len(channels))
	for i, ch := range channels {
		a[i], b[i] = ini[ch], ref[ch]
	}
	return channels, cmplxs.MulTo(make([]complex128, len(channels)), a, b)
}
