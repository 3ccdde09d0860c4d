package fast

import "fmt"

// StreamerState identifies one of the possible states a streamer can be in.
type StreamerState int

// states
const (
	// Stopped means that the streamer is not running. It is both the
	// initial and a terminal state.
	Stopped StreamerState = iota
	// Starting means that the background loop runs and no frame was
	// published yet.
	Starting
	// Streaming means that frames are being published.
	Streaming
	// Looping means that the source was rewound to its first frame.
	Looping
	// ReachedEnd means that the source is exhausted.
	ReachedEnd
	// Failed means that the background loop stopped with an error.
	Failed
)

func (s StreamerState) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Streaming:
		return "streaming"
	case Looping:
		return "looping"
	case ReachedEnd:
		return "reached end"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("StreamerState(%d)", int(s))
}

// terminal reports whether the state cannot change anymore.
func (s StreamerState) terminal() bool {
	return s == ReachedEnd || s == Failed
}

// Continuation tells the streamer what to do when the source is exhausted.
type Continuation int

const (
	// End finishes the stream.
	End Continuation = iota
	// NextSequence continues with the next sequence of the source.
	NextSequence
	// Restart continues with the first frame of the source.
	Restart
)

func (c Continuation) String() string {
	switch c {
	case End:
		return "end"
	case NextSequence:
		return "next sequence"
	case Restart:
		return "restart"
	}
	return fmt.Sprintf("Continuation(%d)", int(c))
}

// StreamerStatus is a snapshot of the streamer progress.
type StreamerStatus struct {
	State  StreamerState
	Frames uint64
	Err    error
}
