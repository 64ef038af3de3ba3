// Package logparse reads the text log printed by the CS sample firmware and
// assembles each "CS Subevent result received" block into cs.SubeventResults.
package logparse

import (
	"encoding/hex"
	"regexp"
	"strconv"

	"github.com/banshee-data/cs-ranging/internal/cs"
	"github.com/banshee-data/cs-ranging/internal/monitoring"
)

// Labels printed by the firmware. They must match the log output byte for byte.
const (
	LabelProcedureCounter     = "Procedure counter"
	LabelProcedureDoneStatus  = "Procedure done status"
	LabelSubeventDoneStatus   = "Subevent done status"
	LabelProcedureAbortReason = "Procedure abort reason"
	LabelSubeventAbortReason  = "Subevent abort reason"
	LabelReferencePowerLevel  = "Reference power level"
	LabelNumStepsReported     = "Num steps reported"
	LabelMeasuredFreqOffset   = "Measured frequency offset"
	LabelRawStepData          = "Raw step data"
)

var (
	reProcedureCounter     = fieldRegexp(LabelProcedureCounter, `(\d+)`)
	reProcedureDoneStatus  = fieldRegexp(LabelProcedureDoneStatus, `(\d+)`)
	reSubeventDoneStatus   = fieldRegexp(LabelSubeventDoneStatus, `(\d+)`)
	reProcedureAbortReason = fieldRegexp(LabelProcedureAbortReason, `(\d+)`)
	reSubeventAbortReason  = fieldRegexp(LabelSubeventAbortReason, `(\d+)`)
	reReferencePowerLevel  = fieldRegexp(LabelReferencePowerLevel, `(-?\d+)`)
	reNumStepsReported     = fieldRegexp(LabelNumStepsReported, `(\d+)`)
	reMeasuredFreqOffset   = fieldRegexp(LabelMeasuredFreqOffset, `(-?\d+(?:\.\d+)?)`)

	// The step section runs to a blank line, the end marker or the end of
	// the block, whichever comes first.
	reStepData = regexp.MustCompile(`(?s)` + LabelRawStepData + `:(.+?)(?:\n\n|I: ` + EndMarker + `|\z)`)
	reNonHex   = regexp.MustCompile(`[^0-9a-fA-F]`)
)

func fieldRegexp(label, value string) *regexp.Regexp {
	return regexp.MustCompile(regexp.QuoteMeta(label) + `:\s*` + value)
}

// Assembler turns text blocks into subevent results. The zero value reports
// diagnostics through cs.LogSink.
type Assembler struct {
	Sink cs.EventSink
}

// Assemble parses block with the default assembler.
func Assemble(block string) *cs.SubeventResults {
	var a Assembler
	return a.Assemble(block)
}

func (a *Assembler) sink() cs.EventSink {
	if a.Sink == nil {
		return cs.LogSink
	}
	return a.Sink
}

// Assemble extracts the labelled header fields and the raw step data from
// block and decodes the steps. It returns nil when a required field or the
// step data section is missing or malformed; nothing partial is returned.
// A block reporting zero steps has no step data section and therefore also
// yields nil.
func (a *Assembler) Assemble(block string) *cs.SubeventResults {
	p := fieldParser{block: block, sink: a.sink()}

	counter := p.parseUint(reProcedureCounter, LabelProcedureCounter, 32)
	procDone := p.parseUint(reProcedureDoneStatus, LabelProcedureDoneStatus, 8)
	subDone := p.parseUint(reSubeventDoneStatus, LabelSubeventDoneStatus, 8)
	procAbort := p.parseUint(reProcedureAbortReason, LabelProcedureAbortReason, 8)
	subAbort := p.parseUint(reSubeventAbortReason, LabelSubeventAbortReason, 8)
	refPower := p.parseInt(reReferencePowerLevel, LabelReferencePowerLevel, 16)
	numSteps := p.parseUint(reNumStepsReported, LabelNumStepsReported, 32)
	if p.failed {
		monitoring.SubeventsAssembled.WithLabelValues("failed").Inc()
		return nil
	}

	res := &cs.SubeventResults{
		ProcedureCounter:     uint32(counter),
		ReferencePowerLevel:  int16(refPower),
		ProcedureDoneStatus:  cs.DoneStatus(procDone),
		SubeventDoneStatus:   cs.DoneStatus(subDone),
		ProcedureAbortReason: cs.ProcedureAbortReason(procAbort),
		SubeventAbortReason:  cs.SubeventAbortReason(subAbort),
		NumStepsReported:     uint32(numSteps),
	}
	p.checkEnum(res.ProcedureDoneStatus.Valid(), LabelProcedureDoneStatus, procDone)
	p.checkEnum(res.SubeventDoneStatus.Valid(), LabelSubeventDoneStatus, subDone)
	p.checkEnum(res.ProcedureAbortReason.Valid(), LabelProcedureAbortReason, procAbort)
	p.checkEnum(res.SubeventAbortReason.Valid(), LabelSubeventAbortReason, subAbort)

	if m := reMeasuredFreqOffset.FindStringSubmatch(block); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			res.MeasuredFreqOffset = &v
		} else {
			p.invalid(LabelMeasuredFreqOffset, err.Error())
		}
	}

	raw := p.stepData()
	if p.failed {
		monitoring.SubeventsAssembled.WithLabelValues("failed").Inc()
		return nil
	}

	dec := cs.Decoder{Sink: p.sink}
	res.Steps = dec.DecodeSteps(raw)
	monitoring.SubeventsAssembled.WithLabelValues("ok").Inc()
	return res
}

// fieldParser accumulates failures so every missing label is reported once.
type fieldParser struct {
	block  string
	sink   cs.EventSink
	failed bool
}

func (p *fieldParser) find(re *regexp.Regexp, label string) (string, bool) {
	m := re.FindStringSubmatch(p.block)
	if m == nil {
		p.failed = true
		p.sink(cs.Event{Kind: cs.EventMissingField, Severity: cs.SeverityError, Field: label})
		return "", false
	}
	return m[1], true
}

func (p *fieldParser) invalid(label, detail string) {
	p.failed = true
	p.sink(cs.Event{Kind: cs.EventInvalidField, Severity: cs.SeverityError, Field: label, Detail: detail})
}

func (p *fieldParser) parseUint(re *regexp.Regexp, label string, bits int) uint64 {
	s, ok := p.find(re, label)
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, bits)
	if err != nil {
		p.invalid(label, err.Error())
		return 0
	}
	return v
}

func (p *fieldParser) parseInt(re *regexp.Regexp, label string, bits int) int64 {
	s, ok := p.find(re, label)
	if !ok {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, bits)
	if err != nil {
		p.invalid(label, err.Error())
		return 0
	}
	return v
}

func (p *fieldParser) checkEnum(valid bool, label string, v uint64) {
	if !valid {
		p.invalid(label, "unknown value "+strconv.FormatUint(v, 10))
	}
}

func (p *fieldParser) stepData() []byte {
	m := reStepData.FindStringSubmatch(p.block)
	if m == nil {
		p.failed = true
		p.sink(cs.Event{Kind: cs.EventMissingStepData, Severity: cs.SeverityError, Field: LabelRawStepData})
		return nil
	}
	digits := reNonHex.ReplaceAllString(m[1], "")
	raw, err := hex.DecodeString(digits)
	if err != nil {
		p.failed = true
		p.sink(cs.Event{Kind: cs.EventInvalidStepHex, Severity: cs.SeverityError, Field: LabelRawStepData, Detail: err.Error()})
		return nil
	}
	return raw
}
