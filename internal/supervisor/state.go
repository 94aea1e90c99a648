package supervisor

// PumpStatus is the state of one stream pump.
type PumpStatus int

const (
	// PumpInProgress means the pump still owns an open descriptor.
	PumpInProgress PumpStatus = iota

	// PumpCompleted means EOF was read, or all input was written (or the
	// child closed its stdin).
	PumpCompleted

	// PumpOverflow means the child produced more than the buffer holds.
	PumpOverflow

	// PumpIOError means a read or write failed unexpectedly.
	PumpIOError

	// PumpAborted means the supervisor stopped the pump early, keeping
	// whatever it had moved so far.
	PumpAborted
)

// String returns a human-readable name for the status.
func (s PumpStatus) String() string {
	switch s {
	case PumpInProgress:
		return "in_progress"
	case PumpCompleted:
		return "completed"
	case PumpOverflow:
		return "overflow"
	case PumpIOError:
		return "io_error"
	case PumpAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// IsTerminal returns true once the pump no longer owns a descriptor.
func (s PumpStatus) IsTerminal() bool {
	return s != PumpInProgress
}
