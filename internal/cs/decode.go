package cs

import (
	"encoding/binary"
	"fmt"

	"github.com/banshee-data/cs-ranging/internal/monitoring"
)

// Step record layout: mode(1) | channel(1) | data_len(1) | body(data_len).
const (
	stepHeaderLen = 3

	mode0BodyLen          = 3
	mode0BodyLenInitiator = 5
	rssiNotAvailable      = 0x7F

	toneLen      = 4
	minToneCount = 2
	maxToneCount = 5
)

// Decoder turns step buffers into typed steps. The zero value reports
// diagnostics through LogSink.
type Decoder struct {
	Sink EventSink
}

// DecodeSteps decodes buf with the default decoder.
func DecodeSteps(buf []byte) []Step {
	var d Decoder
	return d.DecodeSteps(buf)
}

func (d *Decoder) emit(e Event) {
	if d.Sink == nil {
		LogSink(e)
		return
	}
	d.Sink(e)
}

// DecodeSteps scans buf for concatenated step records. It never fails:
// records with a bad mode or channel are skipped using their declared length,
// records whose body does not validate are dropped, and a truncated header or
// body stops the scan, returning what was decoded so far.
func (d *Decoder) DecodeSteps(buf []byte) []Step {
	steps := []Step{}
	offset := 0

	for offset < len(buf) {
		remaining := len(buf) - offset
		if remaining < stepHeaderLen {
			d.emit(Event{Kind: EventIncompleteHeader, Severity: SeverityError, Offset: offset, Length: remaining})
			break
		}

		mode, channel, dataLen := buf[offset], buf[offset+1], int(buf[offset+2])
		hdr := Event{Offset: offset, Mode: mode, Channel: channel, Length: dataLen}

		if mode > uint8(Mode3) {
			hdr.Kind, hdr.Severity = EventInvalidMode, SeverityWarn
			d.emit(hdr)
			offset += stepHeaderLen + dataLen
			continue
		}
		if channel > MaxChannel {
			hdr.Kind, hdr.Severity = EventInvalidChannel, SeverityWarn
			d.emit(hdr)
			offset += stepHeaderLen + dataLen
			continue
		}

		bodyStart := offset + stepHeaderLen
		if len(buf)-bodyStart < dataLen {
			d.emit(Event{
				Kind:     EventIncompleteStepData,
				Severity: SeverityError,
				Offset:   offset,
				Mode:     mode,
				Channel:  channel,
				Length:   len(buf) - bodyStart,
				Detail:   fmt.Sprintf("declared %d body bytes", dataLen),
			})
			break
		}

		body := buf[bodyStart : bodyStart+dataLen]
		if step := d.decodeBody(hdr, StepHeader{Mode: Mode(mode), Channel: channel}, body); step != nil {
			monitoring.StepsDecoded.WithLabelValues(Mode(mode).String()).Inc()
			steps = append(steps, step)
		}
		offset = bodyStart + dataLen
	}

	return steps
}

func (d *Decoder) decodeBody(hdr Event, h StepHeader, body []byte) Step {
	switch h.Mode {
	case Mode0:
		return d.decodeMode0(hdr, h, body)
	case Mode1:
		return &Mode1Step{StepHeader: h, Payload: cloneBytes(body)}
	case Mode2:
		return d.decodeMode2(hdr, h, body)
	case Mode3:
		return &Mode3Step{StepHeader: h, Payload: cloneBytes(body)}
	}
	return nil
}

func (d *Decoder) decodeMode0(hdr Event, h StepHeader, body []byte) Step {
	if len(body) != mode0BodyLen && len(body) != mode0BodyLenInitiator {
		hdr.Kind, hdr.Severity = EventInvalidBodyLength, SeverityWarn
		hdr.Detail = "mode 0 body must be 3 or 5 bytes"
		d.emit(hdr)
		return nil
	}

	step := &Mode0Step{
		StepHeader:    h,
		PacketQuality: PacketQuality(body[0]),
		PacketAntenna: body[2],
	}
	if body[1] != rssiNotAvailable {
		rssi := int8(body[1])
		step.PacketRSSI = &rssi
	}
	if len(body) == mode0BodyLenInitiator {
		offset := float64(int16(binary.LittleEndian.Uint16(body[3:5])))
		step.MeasuredFreqOffset = &offset
	}
	return step
}

func (d *Decoder) decodeMode2(hdr Event, h StepHeader, body []byte) Step {
	if len(body) == 0 || (len(body)-1)%toneLen != 0 {
		hdr.Kind, hdr.Severity = EventInvalidBodyLength, SeverityWarn
		hdr.Detail = "mode 2 body must be 1+4k bytes"
		d.emit(hdr)
		return nil
	}
	count := (len(body) - 1) / toneLen
	if count < minToneCount || count > maxToneCount {
		hdr.Kind, hdr.Severity = EventInvalidToneCount, SeverityWarn
		hdr.Detail = fmt.Sprintf("%d tones, want %d..%d", count, minToneCount, maxToneCount)
		d.emit(hdr)
		return nil
	}

	step := &Mode2Step{
		StepHeader:              h,
		AntennaPermutationIndex: body[0],
		Tones:                   make([]ToneData, 0, count),
	}
	for i := 0; i < count; i++ {
		step.Tones = append(step.Tones, decodeTone(body[1+i*toneLen:1+(i+1)*toneLen]))
	}
	return step
}

// decodeTone unpacks a 24-bit little-endian I/Q word (I in the low 12 bits,
// Q in the high 12) followed by the quality byte.
func decodeTone(b []byte) ToneData {
	word := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
	return ToneData{
		PctI:          signExtend12(word & 0xFFF),
		PctQ:          signExtend12((word >> 12) & 0xFFF),
		Quality:       ToneQuality(b[3] & 0x0F),
		ExtensionSlot: ExtensionSlot(b[3] >> 4),
	}
}

func signExtend12(v uint32) int16 {
	if v >= 0x800 {
		return int16(int32(v) - 0x1000)
	}
	return int16(v)
}

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
