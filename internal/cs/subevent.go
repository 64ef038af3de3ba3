package cs

import "fmt"

// DoneStatus is the procedure or subevent done status reported in a subevent
// header.
type DoneStatus uint8

const (
	DoneAllResultsComplete        DoneStatus = 0x0
	DonePartialResultsToFollow    DoneStatus = 0x1
	DoneAllSubsequentProcsAborted DoneStatus = 0xF
)

// Valid reports whether s is one of the defined statuses.
func (s DoneStatus) Valid() bool {
	switch s {
	case DoneAllResultsComplete, DonePartialResultsToFollow, DoneAllSubsequentProcsAborted:
		return true
	}
	return false
}

func (s DoneStatus) String() string {
	switch s {
	case DoneAllResultsComplete:
		return "AllResultsComplete"
	case DonePartialResultsToFollow:
		return "PartialResultsToFollow"
	case DoneAllSubsequentProcsAborted:
		return "AllSubsequentProceduresAborted"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(s))
}

// ProcedureAbortReason explains why a procedure was aborted.
type ProcedureAbortReason uint8

const (
	ProcedureNoAbort                ProcedureAbortReason = 0x0
	ProcedureAbortLocalOrRemote     ProcedureAbortReason = 0x1
	ProcedureAbortTooFewChannels    ProcedureAbortReason = 0x2
	ProcedureAbortChannelMapInstant ProcedureAbortReason = 0x3
	ProcedureAbortUnspecified       ProcedureAbortReason = 0xF
)

func (r ProcedureAbortReason) Valid() bool {
	switch r {
	case ProcedureNoAbort, ProcedureAbortLocalOrRemote, ProcedureAbortTooFewChannels,
		ProcedureAbortChannelMapInstant, ProcedureAbortUnspecified:
		return true
	}
	return false
}

func (r ProcedureAbortReason) String() string {
	switch r {
	case ProcedureNoAbort:
		return "NoAbort"
	case ProcedureAbortLocalOrRemote:
		return "LocalOrRemoteRequest"
	case ProcedureAbortTooFewChannels:
		return "LessThan15Channels"
	case ProcedureAbortChannelMapInstant:
		return "ChannelMapUpdateInstantPassed"
	case ProcedureAbortUnspecified:
		return "Unspecified"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(r))
}

// SubeventAbortReason explains why a subevent was aborted.
type SubeventAbortReason uint8

const (
	SubeventNoAbort               SubeventAbortReason = 0x0
	SubeventAbortLocalOrRemote    SubeventAbortReason = 0x1
	SubeventAbortNoCSSync         SubeventAbortReason = 0x2
	SubeventAbortSchedulingLimits SubeventAbortReason = 0x3
	SubeventAbortUnspecified      SubeventAbortReason = 0xF
)

func (r SubeventAbortReason) Valid() bool {
	switch r {
	case SubeventNoAbort, SubeventAbortLocalOrRemote, SubeventAbortNoCSSync,
		SubeventAbortSchedulingLimits, SubeventAbortUnspecified:
		return true
	}
	return false
}

func (r SubeventAbortReason) String() string {
	switch r {
	case SubeventNoAbort:
		return "NoAbort"
	case SubeventAbortLocalOrRemote:
		return "LocalOrRemoteRequest"
	case SubeventAbortNoCSSync:
		return "NoCSSync"
	case SubeventAbortSchedulingLimits:
		return "SchedulingConflictOrLimitedResources"
	case SubeventAbortUnspecified:
		return "Unspecified"
	}
	return fmt.Sprintf("Unknown(%d)", uint8(r))
}

// SubeventResults is one decoded subevent report from a single radio. Values
// are treated as immutable once assembled.
type SubeventResults struct {
	ProcedureCounter uint32 `json:"procedure_counter"`
	// MeasuredFreqOffset is only logged by the initiator.
	MeasuredFreqOffset   *float64             `json:"measured_freq_offset,omitempty"`
	ReferencePowerLevel  int16                `json:"reference_power_level"`
	ProcedureDoneStatus  DoneStatus           `json:"procedure_done_status"`
	SubeventDoneStatus   DoneStatus           `json:"subevent_done_status"`
	ProcedureAbortReason ProcedureAbortReason `json:"procedure_abort_reason"`
	SubeventAbortReason  SubeventAbortReason  `json:"subevent_abort_reason"`
	NumStepsReported     uint32               `json:"num_steps_reported"`
	Steps                []Step               `json:"steps"`
}

// Summary counts decoded steps by mode.
type Summary struct {
	StepsReported uint32 `json:"steps_reported"`
	StepsDecoded  int    `json:"steps_decoded"`
	ByMode        [4]int `json:"by_mode"`
	Channels      int    `json:"channels"`
}

// Summarize reports per-mode step counts and the number of distinct channels
// carrying a mode 2 step.
func (r *SubeventResults) Summarize() Summary {
	s := Summary{StepsReported: r.NumStepsReported, StepsDecoded: len(r.Steps)}
	channels := make(map[uint8]struct{})
	for _, step := range r.Steps {
		h := HeaderOf(step)
		if h.Mode <= Mode3 {
			s.ByMode[h.Mode]++
		}
		if h.Mode == Mode2 {
			channels[h.Channel] = struct{}{}
		}
	}
	s.Channels = len(channels)
	return s
}

// String is a one-line description used in logs and the viewer.
func (r *SubeventResults) String() string {
	return fmt.Sprintf("counter=%d steps=%d/%d ref_power=%ddBm proc=%s subevent=%s",
		r.ProcedureCounter, len(r.Steps), r.NumStepsReported, r.ReferencePowerLevel,
		r.ProcedureDoneStatus, r.SubeventDoneStatus)
}
