package buffer

// ReadyState is the state of the resource a sink belongs to.
type ReadyState int

// Ready states.
const (
	ReadyStateClosed ReadyState = iota
	ReadyStateOpen
	ReadyStateEnded
)

func (s ReadyState) String() string {
	switch s {
	case ReadyStateClosed:
		return "closed"
	case ReadyStateOpen:
		return "open"
	case ReadyStateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Sink is an append-only media buffer with a single pending operation.
//
// AppendBuffer and Remove start an operation and return at once; its outcome
// is delivered later as one value on UpdateEnd. The same channel serves every
// operation. Abort cancels the pending operation and suppresses its
// completion; it is only valid while ReadyState is ReadyStateOpen.
type Sink interface {
	AppendBuffer(data []byte) error
	Remove(start, end float64) error
	Abort() error
	Buffered() TimeRanges
	ReadyState() ReadyState
	UpdateEnd() <-chan error
}
