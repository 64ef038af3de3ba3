package ranging

import (
	"math"
	"math/cmplx"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"gonum.org/v1/gonum/stat"
)

// SpeedOfLight in m/s.
const SpeedOfLight = 299_792_458.0

// Unwrap removes 2*pi jumps between consecutive samples. A running offset
// starts at zero; a step above +pi subtracts 2*pi from it, a step below -pi
// adds 2*pi. Each output is the raw sample plus the offset so far.
func Unwrap(phases []float64) []float64 {
	out := make([]float64, len(phases))
	offset := 0.0
	for i, p := range phases {
		if i > 0 {
			delta := p - phases[i-1]
			if delta > math.Pi {
				offset -= 2 * math.Pi
			} else if delta < -math.Pi {
				offset += 2 * math.Pi
			}
		}
		out[i] = p + offset
	}
	return out
}

// PhaseTrend sums the initiator and reflector phase on every common channel
// and unwraps the sequence in ascending channel order. The result is keyed by
// channel.
func PhaseTrend(initiator, reflector *cs.SubeventResults) Series {
	ini, ref := AverageIQ(initiator), AverageIQ(reflector)
	channels := commonChannels(ini, ref)

	raw := make([]float64, len(channels))
	for i, ch := range channels {
		raw[i] = cmplx.Phase(ini[ch]) + cmplx.Phase(ref[ch])
	}

	out := make(Series, len(channels))
	for i, p := range Unwrap(raw) {
		out[int(channels[i])] = p
	}
	return out
}

// PhaseSlopeDistance fits a line to the unwrapped round-trip phase against
// channel frequency and converts the slope to a one-way distance,
// d = -slope*c/(4*pi). It needs at least two channels.
func PhaseSlopeDistance(trend Series, channelSpacingHz float64) (float64, bool) {
	if len(trend) < 2 || channelSpacingHz <= 0 {
		return 0, false
	}
	keys := trend.Keys()
	freqs := make([]float64, len(keys))
	for i, ch := range keys {
		freqs[i] = float64(ch) * channelSpacingHz
	}
	_, slope := stat.LinearRegression(freqs, trend.Values(), nil, false)
	return -slope * SpeedOfLight / (4 * math.Pi), true
}
