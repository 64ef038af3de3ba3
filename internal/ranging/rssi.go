package ranging

import (
	"math/cmplx"

	"github.com/banshee-data/cs-ranging/internal/cs"
)

// RSSI returns the magnitude of the averaged tone I/Q per channel for each
// radio separately. The two maps are not combined.
func RSSI(initiator, reflector *cs.SubeventResults) (Series, Series) {
	return magnitudes(AverageIQ(initiator)), magnitudes(AverageIQ(reflector))
}

func magnitudes(iq ChannelIQ) Series {
	out := make(Series, len(iq))
	for ch, v := range iq {
		out[int(ch)] = cmplx.Abs(v)
	}
	return out
}
