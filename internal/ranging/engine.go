package ranging

import (
	"time"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
)

// Defaults for Config.
const (
	DefaultChannelSpacingHz = 1_000_000.0
	DefaultSpectrumPoints   = 256
	DefaultPowerIterations  = 40
)

// Config tunes the MUSIC estimate. Zero fields take the defaults.
type Config struct {
	ChannelSpacingHz float64
	SpectrumPoints   int
	PowerIterations  int
}

// DefaultConfig returns the configuration used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		ChannelSpacingHz: DefaultChannelSpacingHz,
		SpectrumPoints:   DefaultSpectrumPoints,
		PowerIterations:  DefaultPowerIterations,
	}
}

func (c Config) withDefaults() Config {
	if c.ChannelSpacingHz <= 0 {
		c.ChannelSpacingHz = DefaultChannelSpacingHz
	}
	if c.SpectrumPoints <= 0 {
		c.SpectrumPoints = DefaultSpectrumPoints
	}
	if c.PowerIterations <= 0 {
		c.PowerIterations = DefaultPowerIterations
	}
	return c
}

// Result holds every output derived from one initiator/reflector pair.
type Result struct {
	ProcedureCounter uint32 `json:"procedure_counter"`
	// Channels lists the channels both radios measured, ascending.
	Channels        []int  `json:"channels"`
	ImpulseResponse Series `json:"impulse_response"`
	Spectrum        Series `json:"spectrum"`
	PhaseTrend      Series `json:"phase_trend"`
	InitiatorRSSI   Series `json:"initiator_rssi"`
	ReflectorRSSI   Series `json:"reflector_rssi"`

	// Derived estimates; nil when the inputs do not support them.
	PeakDelaySeconds    *float64 `json:"peak_delay_seconds,omitempty"`
	MusicDistanceM      *float64 `json:"music_distance_m,omitempty"`
	PhaseSlopeDistanceM *float64 `json:"phase_slope_distance_m,omitempty"`
}

// Compute runs every estimator on one pair. Both subevents must carry the same
// procedure counter; the initiator's is reported.
func Compute(initiator, reflector *cs.SubeventResults, cfg Config) Result {
	start := time.Now()
	defer func() { monitoring.RangingSeconds.Observe(time.Since(start).Seconds()) }()

	cfg = cfg.withDefaults()
	channels, response := ChannelResponse(initiator, reflector)

	res := Result{
		ImpulseResponse: impulseMagnitudes(response),
		Spectrum:        musicSpectrum(response, cfg),
		PhaseTrend:      PhaseTrend(initiator, reflector),
	}
	for _, ch := range channels {
		res.Channels = append(res.Channels, int(ch))
	}
	if initiator != nil {
		res.ProcedureCounter = initiator.ProcedureCounter
	}
	res.InitiatorRSSI, res.ReflectorRSSI = RSSI(initiator, reflector)

	if delay, ok := PeakDelay(res.Spectrum, cfg); ok {
		d := SpeedOfLight * delay / 2
		res.PeakDelaySeconds = &delay
		res.MusicDistanceM = &d
		monitoring.DistanceMeters.WithLabelValues("music").Set(d)
	}
	if d, ok := PhaseSlopeDistance(res.PhaseTrend, cfg.ChannelSpacingHz); ok {
		res.PhaseSlopeDistanceM = &d
		monitoring.DistanceMeters.WithLabelValues("phase_slope").Set(d)
	}
	return res
}
