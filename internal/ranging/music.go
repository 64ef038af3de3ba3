package ranging

import (
	"math"
	"math/cmplx"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"gonum.org/v1/gonum/cmplxs"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	minMusicSamples = 3
	zeroNorm        = 1e-15
	minDenominator  = 1e-12
)

// smoothedCovariance averages window*window^H over every length-m window of
// response (forward spatial smoothing).
func smoothedCovariance(response []complex128, m int) *mat.CDense {
	snapshots := len(response) - m + 1
	cov := mat.NewCDense(m, m, nil)
	for start := 0; start < snapshots; start++ {
		window := response[start : start+m]
		for row := 0; row < m; row++ {
			for col := 0; col < m; col++ {
				cov.Set(row, col, cov.At(row, col)+window[row]*cmplx.Conj(window[col]))
			}
		}
	}
	scale := complex(1/float64(snapshots), 0)
	for row := 0; row < m; row++ {
		for col := 0; col < m; col++ {
			cov.Set(row, col, cov.At(row, col)*scale)
		}
	}
	return cov
}

// principalEigenvector runs power iteration from the first unit vector. It
// returns nil if the iterate collapses to zero.
func principalEigenvector(cov *mat.CDense, iterations int) []complex128 {
	n, _ := cov.Dims()
	if n == 0 {
		return nil
	}

	// cmplxs.Dot conjugates its first argument, so multiply by rows of the
	// conjugated matrix to get cov*v.
	var conj mat.CDense
	conj.Conj(cov)
	raw := conj.RawCMatrix()

	v := make([]complex128, n)
	v[0] = 1
	next := make([]complex128, n)
	for it := 0; it < iterations; it++ {
		for row := 0; row < n; row++ {
			next[row] = cmplxs.Dot(raw.Data[row*raw.Stride:row*raw.Stride+n], v)
		}
		norm := cmplxs.Norm(next, 2)
		if norm <= zeroNorm {
			return nil
		}
		cmplxs.ScaleRealTo(v, 1/norm, next)
	}
	return v
}

// MusicSpectrum estimates a single-path MUSIC pseudo-spectrum over delays in
// [0, 1/ChannelSpacingHz) split into SpectrumPoints bins, normalised so the
// peak is 1. It is empty with fewer than three common channels or when the
// signal subspace cannot be estimated.
func MusicSpectrum(initiator, reflector *cs.SubeventResults, cfg Config) Series {
	_, response := ChannelResponse(initiator, reflector)
	return musicSpectrum(response, cfg.withDefaults())
}

func musicSpectrum(response []complex128, cfg Config) Series {
	n := len(response)
	if n < minMusicSamples {
		return Series{}
	}

	m := max(2, n/2)
	eig := principalEigenvector(smoothedCovariance(response, m), cfg.PowerIterations)
	if eig == nil {
		return Series{}
	}

	values := make([]float64, cfg.SpectrumPoints)
	steering := make([]complex128, m)
	maxDelay := 1 / cfg.ChannelSpacingHz
	for bin := range values {
		delay := float64(bin) / float64(cfg.SpectrumPoints) * maxDelay
		for k := range steering {
			steering[k] = cmplx.Rect(1, -2*math.Pi*cfg.ChannelSpacingHz*float64(k)*delay)
		}
		p := cmplx.Abs(cmplxs.Dot(eig, steering))
		values[bin] = 1 / math.Max(float64(m)-p*p, minDenominator)
	}

	if peak := floats.Max(values); peak > 0 {
		floats.Scale(1/peak, values)
	}

	out := make(Series, len(values))
	for bin, v := range values {
		out[bin] = v
	}
	return out
}

// PeakDelay returns the delay in seconds of the highest spectrum bin, or false
// for an empty spectrum.
func PeakDelay(spectrum Series, cfg Config) (float64, bool) {
	if len(spectrum) == 0 {
		return 0, false
	}
	cfg = cfg.withDefaults()
	keys := spectrum.Keys()
	values := spectrum.Values()
	bin := keys[floats.MaxIdx(values)]
	return float64(bin) / float64(cfg.SpectrumPoints) / cfg.ChannelSpacingHz, true
}
