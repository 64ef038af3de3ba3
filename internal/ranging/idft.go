package ranging

import (
	"math"
	"math/cmplx"

	"github.com/banshee-data/cs-ranging/internal/cs"
)

// IDFT computes the normalised inverse DFT by direct summation:
// out[n] = (1/N) * sum_k values[k] * exp(+2*pi*i*k*n/N). N is the number of
// common channels, small enough that O(N^2) is fine, and no power-of-two
// padding is wanted.
func IDFT(values []complex128) []complex128 {
	n := len(values)
	out := make([]complex128, n)
	if n == 0 {
		return out
	}
	for j := range out {
		var acc complex128
		for k, v := range values {
			angle := 2 * math.Pi * float64(k) * float64(j) / float64(n)
			acc += v * cmplx.Rect(1, angle)
		}
		out[j] = acc / complex(float64(n), 0)
	}
	return out
}

// ImpulseResponse returns the magnitude of the IDFT of the channel response,
// keyed by output bin. It is empty when the radios share no channel.
func ImpulseResponse(initiator, reflector *cs.SubeventResults) Series {
	_, response := ChannelResponse(initiator, reflector)
	return impulseMagnitudes(response)
}

func impulseMagnitudes(response []complex128) Series {
	out := make(Series, len(response))
	for i, v := range IDFT(response) {
		out[i] = cmplx.Abs(v)
	}
	return out
}
