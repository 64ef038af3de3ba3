package ranging

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/dsp/fourier"
)

func channelRange(from, to int) []int {
	var out []int
	for ch := from; ch <= to; ch++ {
		out = append(out, ch)
	}
	return out
}

func subevent(counter uint32, steps []byte) *cs.SubeventResults {
	decoded := (&cs.Decoder{Sink: cs.DiscardSink}).DecodeSteps(steps)
	return &cs.SubeventResults{
		ProcedureCounter: counter,
		NumStepsReported: uint32(len(decoded)),
		Steps:            decoded,
	}
}

func mode2(channel uint8, tones ...cs.ToneData) *cs.Mode2Step {
	return &cs.Mode2Step{
		StepHeader: cs.StepHeader{Mode: cs.Mode2, Channel: channel},
		Tones:      tones,
	}
}

func tone(i, q int16, slot cs.ExtensionSlot) cs.ToneData {
	return cs.ToneData{PctI: i, PctQ: q, ExtensionSlot: slot}
}

func TestAverageIQ(t *testing.T) {
	r := &cs.SubeventResults{Steps: []cs.Step{
		&cs.Mode0Step{StepHeader: cs.StepHeader{Mode: cs.Mode0, Channel: 2}},
		mode2(2, tone(100, 50, cs.NotExtensionSlot), tone(200, 150, cs.ExtensionExpected), tone(9999, 9999, cs.ExtensionNotExpected)),
		mode2(3, tone(7, 7, cs.ExtensionNotExpected)),
		mode2(4, tone(1, 1, cs.NotExtensionSlot)),
		mode2(4, tone(-10, 20, cs.NotExtensionSlot)),
	}}

	got := AverageIQ(r)
	assert.Equal(t, ChannelIQ{2: complex(150, 100), 4: complex(-10, 20)}, got)
	assert.Empty(t, AverageIQ(nil))
}

func TestChannelResponse(t *testing.T) {
	ini := &cs.SubeventResults{Steps: []cs.Step{
		mode2(5, tone(1, 1, cs.NotExtensionSlot)),
		mode2(2, tone(2, 0, cs.NotExtensionSlot)),
		mode2(9, tone(3, 0, cs.NotExtensionSlot)),
	}}
	ref := &cs.SubeventResults{Steps: []cs.Step{
		mode2(2, tone(0, 1, cs.NotExtensionSlot)),
		mode2(5, tone(1, -1, cs.NotExtensionSlot)),
	}}

	channels, response := ChannelResponse(ini, ref)
	assert.Equal(t, []uint8{2, 5}, channels)
	assert.Equal(t, []complex128{complex(0, 2), complex(2, 0)}, response)
}

func TestIDFT(t *testing.T) {
	t.Run("two samples", func(t *testing.T) {
		got := IDFT([]complex128{0, 1})
		require.Len(t, got, 2)
		assert.InDelta(t, 0.5, real(got[0]), 1e-12)
		assert.InDelta(t, 0, imag(got[0]), 1e-12)
		assert.InDelta(t, -0.5, real(got[1]), 1e-12)
		assert.InDelta(t, 0, imag(got[1]), 1e-12)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, IDFT(nil))
	})

	t.Run("matches fft", func(t *testing.T) {
		for _, n := range []int{3, 7, 16, 40, 72} {
			in := make([]complex128, n)
			for k := range in {
				in[k] = complex(math.Sin(float64(k)*0.7)+0.1*float64(k), math.Cos(float64(k)*1.3))
			}
			want := fourier.NewCmplxFFT(n).Sequence(nil, in)
			got := IDFT(in)
			for j := range got {
				w := want[j] / complex(float64(n), 0)
				assert.InDeltaf(t, 0, cmplx.Abs(got[j]-w), 1e-9, "n=%d bin=%d", n, j)
			}
		}
	})
}

func TestImpulseResponse(t *testing.T) {
	ini := subevent(1, testutil.UnitSteps(channelRange(2, 9)))
	ref := subevent(1, testutil.UnitSteps(channelRange(2, 9)))

	got := ImpulseResponse(ini, ref)
	require.Len(t, got, 8)
	assert.InDelta(t, 1, got[0], 1e-12)
	for bin := 1; bin < 8; bin++ {
		assert.InDelta(t, 0, got[bin], 1e-12)
	}

	flip := &cs.SubeventResults{Steps: []cs.Step{
		mode2(1, tone(1, 0, cs.NotExtensionSlot)),
		mode2(2, tone(-1, 0, cs.NotExtensionSlot)),
	}}
	unit := &cs.SubeventResults{Steps: []cs.Step{
		mode2(1, tone(1, 0, cs.NotExtensionSlot)),
		mode2(2, tone(1, 0, cs.NotExtensionSlot)),
	}}
	two := ImpulseResponse(unit, flip)
	require.Len(t, two, 2)
	assert.InDelta(t, 0, two[0], 1e-12)
	assert.InDelta(t, 1, two[1], 1e-12)

	disjoint := subevent(2, testutil.UnitSteps([]int{30, 31}))
	assert.Empty(t, ImpulseResponse(ini, disjoint))
}

func TestMusicSpectrum(t *testing.T) {
	cfg := DefaultConfig()
	channels := channelRange(2, 17)
	ini := subevent(7, testutil.PhaseSteps(channels, cfg.ChannelSpacingHz, 0.25e-6, 1000))
	ref := subevent(7, testutil.UnitSteps(channels))

	spectrum := MusicSpectrum(ini, ref, cfg)
	require.Len(t, spectrum, cfg.SpectrumPoints)
	for _, v := range spectrum {
		assert.LessOrEqual(t, v, 1.0+1e-12)
	}

	delay, ok := PeakDelay(spectrum, cfg)
	require.True(t, ok)
	assert.InDelta(t, 0.25e-6, delay, 0.03e-6)
	assert.InDelta(t, 1.0, spectrum[int(math.Round(delay*cfg.ChannelSpacingHz*float64(cfg.SpectrumPoints)))], 1e-12)
}

func TestMusicSpectrum_FractionalDelay(t *testing.T) {
	cfg := DefaultConfig()
	binWidth := 1 / (cfg.ChannelSpacingHz * float64(cfg.SpectrumPoints))

	for _, n := range []int{8, 16, 40, 72} {
		for _, bins := range []float64{10.37, 64.5, 150.73, 200.9} {
			channels := channelRange(2, n+1)
			delay := bins * binWidth
			ini := subevent(1, testutil.PhaseSteps(channels, cfg.ChannelSpacingHz, delay, 1000))
			ref := subevent(1, testutil.UnitSteps(channels))

			got, ok := PeakDelay(MusicSpectrum(ini, ref, cfg), cfg)
			require.Truef(t, ok, "n=%d bins=%g", n, bins)
			assert.LessOrEqualf(t, math.Abs(got-delay), binWidth, "n=%d bins=%g peak=%g", n, bins, got)
		}
	}
}

func TestMusicSpectrum_Degenerate(t *testing.T) {
	cfg := DefaultConfig()

	t.Run("too few channels", func(t *testing.T) {
		ini := subevent(1, testutil.UnitSteps([]int{2, 3}))
		assert.Empty(t, MusicSpectrum(ini, ini, cfg))
	})

	t.Run("zero response", func(t *testing.T) {
		zero := &cs.SubeventResults{}
		for ch := uint8(2); ch < 10; ch++ {
			zero.Steps = append(zero.Steps, mode2(ch, tone(0, 0, cs.NotExtensionSlot)))
		}
		assert.Empty(t, MusicSpectrum(zero, zero, cfg))
	})

	t.Run("empty spectrum has no peak", func(t *testing.T) {
		_, ok := PeakDelay(Series{}, cfg)
		assert.False(t, ok)
	})
}

func TestConfigDefaults(t *testing.T) {
	assert.Equal(t, DefaultConfig(), Config{}.withDefaults())

	custom := Config{ChannelSpacingHz: 2e6, SpectrumPoints: 64, PowerIterations: 5}
	assert.Equal(t, custom, custom.withDefaults())
}

func TestUnwrap(t *testing.T) {
	in := []float64{3.0, -3.0, -2.9, 3.1, 0.5}
	got := Unwrap(in)
	want := []float64{3.0, -3.0 + 2*math.Pi, -2.9 + 2*math.Pi, 3.1, 0.5}
	assert.InDeltaSlice(t, want, got, 1e-12)

	for i := 1; i < len(got); i++ {
		assert.LessOrEqual(t, math.Abs(got[i]-got[i-1]), math.Pi)
	}
	assert.InDeltaSlice(t, got, Unwrap(got), 1e-12)
	assert.Empty(t, Unwrap(nil))
}

func TestPhaseSlopeDistance(t *testing.T) {
	cfg := DefaultConfig()
	channels := channelRange(2, 40)
	// A 20 ns round trip puts the target about 3 m away.
	const delay = 20e-9
	ini := subevent(3, testutil.PhaseSteps(channels, cfg.ChannelSpacingHz, delay, 1500))
	ref := subevent(3, testutil.UnitSteps(channels))

	trend := PhaseTrend(ini, ref)
	require.Len(t, trend, len(channels))

	d, ok := PhaseSlopeDistance(trend, cfg.ChannelSpacingHz)
	require.True(t, ok)
	assert.InDelta(t, SpeedOfLight*delay/2, d, 0.05)

	_, ok = PhaseSlopeDistance(Series{4: 1}, cfg.ChannelSpacingHz)
	assert.False(t, ok)
}

func TestRSSI(t *testing.T) {
	ini := &cs.SubeventResults{Steps: []cs.Step{
		mode2(2, tone(3, 4, cs.NotExtensionSlot)),
		mode2(6, tone(0, -2, cs.NotExtensionSlot)),
	}}
	ref := &cs.SubeventResults{Steps: []cs.Step{
		mode2(6, tone(6, 8, cs.NotExtensionSlot)),
	}}

	a, b := RSSI(ini, ref)
	assert.Equal(t, Series{2: 5, 6: 2}, a)
	assert.Equal(t, Series{6: 10}, b)
}

func TestCompute(t *testing.T) {
	cfg := DefaultConfig()
	channels := channelRange(2, 33)
	ini := subevent(42, testutil.PhaseSteps(channels, cfg.ChannelSpacingHz, 0.125e-6, 1200))
	ref := subevent(42, testutil.UnitSteps(channels))

	res := Compute(ini, ref, Config{})
	assert.Equal(t, uint32(42), res.ProcedureCounter)
	assert.Len(t, res.Channels, len(channels))
	assert.Len(t, res.ImpulseResponse, len(channels))
	assert.Len(t, res.Spectrum, cfg.SpectrumPoints)
	assert.Len(t, res.PhaseTrend, len(channels))
	assert.Len(t, res.InitiatorRSSI, len(channels))

	require.NotNil(t, res.PeakDelaySeconds)
	assert.InDelta(t, 0.125e-6, *res.PeakDelaySeconds, 0.03e-6)
	require.NotNil(t, res.MusicDistanceM)
	assert.InDelta(t, SpeedOfLight*0.125e-6/2, *res.MusicDistanceM, 5)
	require.NotNil(t, res.PhaseSlopeDistanceM)
	assert.InDelta(t, SpeedOfLight*0.125e-6/2, *res.PhaseSlopeDistanceM, 0.5)
}

func TestCompute_NoCommonChannels(t *testing.T) {
	ini := subevent(1, testutil.UnitSteps([]int{2, 3, 4}))
	ref := subevent(1, testutil.UnitSteps([]int{10, 11}))

	res := Compute(ini, ref, DefaultConfig())
	assert.Empty(t, res.Channels)
	assert.Empty(t, res.ImpulseResponse)
	assert.Empty(t, res.Spectrum)
	assert.Empty(t, res.PhaseTrend)
	assert.Nil(t, res.PeakDelaySeconds)
	assert.Nil(t, res.MusicDistanceM)
	assert.Nil(t, res.PhaseSlopeDistanceM)
	assert.Len(t, res.InitiatorRSSI, 3)
	assert.Len(t, res.ReflectorRSSI, 2)
}
