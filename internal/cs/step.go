// Package cs models Bluetooth Channel Sounding subevent results and decodes the
// binary step records reported by the controller.
package cs

import "fmt"

// MaxChannel is the highest valid CS channel index.
const MaxChannel = 78

// Mode identifies the CS step mode carried in a step header.
type Mode uint8

const (
	Mode0 Mode = iota
	Mode1
	Mode2
	Mode3
)

func (m Mode) String() string {
	if m <= Mode3 {
		return fmt.Sprintf("mode%d", uint8(m))
	}
	return fmt.Sprintf("Unknown(%d)", uint8(m))
}

// PacketQuality is the access-address quality of a mode 0 packet.
type PacketQuality uint8

const (
	PacketQualityAaSuccess PacketQuality = iota
	PacketQualityAaBitErrors
	PacketQualityAaNotFound
)

func (q PacketQuality) String() string {
	switch q {
	case PacketQualityAaSuccess:
		return "AaSuccess"
	case PacketQualityAaBitErrors:
		return "AaBitErrors"
	case PacketQualityAaNotFound:
		return "AaNotFound"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(q))
}

// ToneQuality is the quality indicator of a single mode 2 tone.
type ToneQuality uint8

const (
	ToneQualityHigh ToneQuality = iota
	ToneQualityMedium
	ToneQualityLow
	ToneQualityUnavailable
)

func (q ToneQuality) String() string {
	switch q {
	case ToneQualityHigh:
		return "High"
	case ToneQualityMedium:
		return "Medium"
	case ToneQualityLow:
		return "Low"
	case ToneQualityUnavailable:
		return "Unavailable"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(q))
}

// ExtensionSlot tells whether a tone was measured in the tone extension slot.
type ExtensionSlot uint8

const (
	NotExtensionSlot ExtensionSlot = iota
	ExtensionNotExpected
	ExtensionExpected
)

func (e ExtensionSlot) String() string {
	switch e {
	case NotExtensionSlot:
		return "NotExtensionSlot"
	case ExtensionNotExpected:
		return "ExtensionNotExpected"
	case ExtensionExpected:
		return "ExtensionExpected"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(e))
}

// ToneData is one antenna-path I/Q measurement. PctI and PctQ are signed 12-bit
// values in -2048..2047.
type ToneData struct {
	PctI          int16         `json:"pct_i"`
	PctQ          int16         `json:"pct_q"`
	Quality       ToneQuality   `json:"quality"`
	ExtensionSlot ExtensionSlot `json:"quality_extension_slot"`
}

// Step is one decoded CS step. The concrete type is one of *Mode0Step,
// *Mode1Step, *Mode2Step or *Mode3Step; use a type switch to inspect it.
type Step interface {
	header() StepHeader
}

// StepHeader holds the fields every step carries.
type StepHeader struct {
	Mode    Mode  `json:"mode"`
	Channel uint8 `json:"channel"`
}

func (h StepHeader) header() StepHeader { return h }

// HeaderOf returns the mode and channel of any step.
func HeaderOf(s Step) StepHeader { return s.header() }

// Mode0Step is a frequency-offset measurement step.
type Mode0Step struct {
	StepHeader
	PacketQuality PacketQuality `json:"packet_quality"`
	// PacketRSSI is nil when the controller reported 0x7F (not available).
	PacketRSSI    *int8 `json:"packet_rssi,omitempty"`
	PacketAntenna uint8 `json:"packet_antenna"`
	// MeasuredFreqOffset is in units of 0.01 ppm and only present on the
	// initiator's 5-byte body.
	MeasuredFreqOffset *float64 `json:"measured_freq_offset,omitempty"`
}

// Mode1Step is an RTT step, kept as an uninterpreted body.
type Mode1Step struct {
	StepHeader
	Payload []byte `json:"payload"`
}

// Mode2Step is a phase-based ranging step.
type Mode2Step struct {
	StepHeader
	AntennaPermutationIndex uint8      `json:"antenna_permutation_index"`
	Tones                   []ToneData `json:"tones"`
}

// Mode3Step is a combined RTT and PBR step, kept as an uninterpreted body.
type Mode3Step struct {
	StepHeader
	Payload []byte `json:"payload"`
}
