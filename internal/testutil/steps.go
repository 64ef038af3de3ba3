package testutil

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// StepRecord encodes one step record: mode, channel, body length, body.
func StepRecord(mode, channel byte, body ...byte) []byte {
	out := make([]byte, 0, 3+len(body))
	out = append(out, mode, channel, byte(len(body)))
	return append(out, body...)
}

// Mode0Body builds a reflector-style 3-byte mode 0 body.
func Mode0Body(quality, rssi, antenna byte) []byte {
	return []byte{quality, rssi, antenna}
}

// Mode0BodyWithOffset builds an initiator-style 5-byte mode 0 body.
func Mode0BodyWithOffset(quality, rssi, antenna byte, freqOffset int16) []byte {
	out := []byte{quality, rssi, antenna, 0, 0}
	binary.LittleEndian.PutUint16(out[3:], uint16(freqOffset))
	return out
}

// Tone is an unpacked mode 2 tone used to build step bodies.
type Tone struct {
	I, Q    int
	Quality byte
	Slot    byte
}

// Mode2Body packs an antenna permutation index and tones into a mode 2 body.
func Mode2Body(antennaPermutation byte, tones ...Tone) []byte {
	out := []byte{antennaPermutation}
	for _, t := range tones {
		word := uint32(t.I&0xFFF) | uint32(t.Q&0xFFF)<<12
		out = append(out, byte(word), byte(word>>8), byte(word>>16), t.Quality&0x0F|t.Slot<<4)
	}
	return out
}

// PhaseSteps builds one mode 2 step per channel whose single-path I/Q encode a
// phase of -2*pi*channel*spacingHz*delaySec at the given amplitude. Each step
// carries two identical tones outside the extension slot.
func PhaseSteps(channels []int, spacingHz, delaySec, amplitude float64) []byte {
	var out []byte
	for _, ch := range channels {
		phase := -2 * math.Pi * float64(ch) * spacingHz * delaySec
		t := Tone{
			I: int(math.Round(amplitude * math.Cos(phase))),
			Q: int(math.Round(amplitude * math.Sin(phase))),
		}
		out = append(out, StepRecord(2, byte(ch), Mode2Body(0, t, t)...)...)
	}
	return out
}

// UnitSteps builds mode 2 steps with I=1 Q=0 on every channel, which leaves
// the partner radio's phases unchanged in a channel response.
func UnitSteps(channels []int) []byte {
	var out []byte
	for _, ch := range channels {
		t := Tone{I: 1}
		out = append(out, StepRecord(2, byte(ch), Mode2Body(0, t, t)...)...)
	}
	return out
}

// Block describes a subevent report to render in firmware log format.
type Block struct {
	Counter    uint32
	RefPower   int
	NumSteps   int
	FreqOffset *float64
	Steps      []byte
	// OmitStepData drops the raw step data section even if Steps is set.
	OmitStepData bool
}

// Render prints the block the way the sample firmware does, including the
// trailing "CS Subevent end" line.
func (b Block) Render() string {
	var s strings.Builder
	s.WriteString("I: CS Subevent result received:\n")
	fmt.Fprintf(&s, "I:  - Procedure counter: %d\n", b.Counter)
	if b.FreqOffset != nil {
		fmt.Fprintf(&s, "I:  - Measured frequency offset: %g\n", *b.FreqOffset)
	}
	s.WriteString("I:  - Procedure done status: 0\n")
	s.WriteString("I:  - Subevent done status: 0\n")
	s.WriteString("I:  - Procedure abort reason: 0\n")
	s.WriteString("I:  - Subevent abort reason: 0\n")
	fmt.Fprintf(&s, "I:  - Reference power level: %d\n", b.RefPower)
	s.WriteString("I:  - Num antenna paths: 1\n")
	fmt.Fprintf(&s, "I:  - Num steps reported: %d\n", b.NumSteps)
	if len(b.Steps) > 0 && !b.OmitStepData {
		fmt.Fprintf(&s, "I:  - Step data buffer length: %d bytes\n", len(b.Steps))
		s.WriteString("I: Raw step data:\n")
		for i := 0; i < len(b.Steps); i += 16 {
			end := min(i+16, len(b.Steps))
			fmt.Fprintf(&s, "  %x\n", b.Steps[i:end])
		}
	}
	s.WriteString("I: CS Subevent end\n")
	return s.String()
}

// Log renders blocks back to back with some boot noise in front, as seen at
// the start of a UART capture.
func Log(blocks ...Block) string {
	var s strings.Builder
	s.WriteString("*** Booting nRF Connect SDK ***\nI: Starting Channel Sounding Initiator Sample\n")
	for _, b := range blocks {
		s.WriteString(b.Render())
	}
	return s.String()
}
