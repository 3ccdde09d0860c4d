// Package manual provides a streamer of in-memory data sequences.
package manual

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/AustinTapp/FAST"
)

// Attribute ids of the streamer.
const (
	StartNumberAttribute = "start-number"
	StepSizeAttribute    = "step-size"
	ReplaysAttribute     = "replays"
	LoopAttribute        = "loop"
	SleepTimeAttribute   = "sleep-time"
	MaxFramesAttribute   = "max-frames"
)

// Streamer publishes frames of one or more sequences added by the user.
// Sequences are streamed in order, then the streamer ends, replays or
// loops.
type Streamer struct {
	*fast.Streamer

	mu          sync.Mutex
	sequences   [][]fast.DataObject
	startNumber int
	stepSize    int
	replays     int
	looping     bool

	// position
	started     bool
	sequence    int
	frame       int
	replaysDone int
}

// New returns a streamer without data. Output port 0 publishes every data
// object type.
func New(name string, options ...fast.Option) *Streamer {
	m := &Streamer{stepSize: 1}
	m.Streamer = fast.NewStreamer(name, m, options...)
	m.AddOutputPort(0, fast.AnyData)
	m.CreateIntegerAttribute(StartNumberAttribute, "Start number", "Index of the first frame of each sequence", 0)
	m.CreateIntegerAttribute(StepSizeAttribute, "Step size", "Distance between streamed frames", 1)
	m.CreateIntegerAttribute(ReplaysAttribute, "Replays", "Number of times the sequences are replayed", 0)
	m.CreateBooleanAttribute(LoopAttribute, "Loop", "Restart the sequences forever", false)
	m.CreateIntegerAttribute(SleepTimeAttribute, "Sleep time", "Sleep after each frame in milliseconds", 0)
	m.CreateIntegerAttribute(MaxFramesAttribute, "Maximum number of frames", "Stop after this number of frames, 0 means no limit", 0)
	return m
}

// AddData appends the object to the last sequence. The reference is
// transferred to the streamer.
func (m *Streamer) AddData(obj fast.DataObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sequences) == 0 {
		m.sequences = append(m.sequences, nil)
	}
	last := len(m.sequences) - 1
	m.sequences[last] = append(m.sequences[last], obj)
}

// AddSequence appends a new sequence. The references are transferred to
// the streamer.
func (m *Streamer) AddSequence(objs []fast.DataObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sequences = append(m.sequences, append([]fast.DataObject(nil), objs...))
}

// SetStartNumber sets the index of the first frame of every sequence.
func (m *Streamer) SetStartNumber(n int) error {
	return m.SetAttribute(StartNumberAttribute, n)
}

// SetStepSize sets the distance between streamed frames.
func (m *Streamer) SetStepSize(n int) error {
	return m.SetAttribute(StepSizeAttribute, n)
}

// SetNumberOfReplays sets how many times the sequences are streamed
// again after the first pass.
func (m *Streamer) SetNumberOfReplays(n int) error {
	return m.SetAttribute(ReplaysAttribute, n)
}

// EnableLooping restarts the sequences forever.
func (m *Streamer) EnableLooping() {
	m.SetAttribute(LoopAttribute, true)
}

// DisableLooping ends the stream after the last sequence.
func (m *Streamer) DisableLooping() {
	m.SetAttribute(LoopAttribute, false)
}

// SetSleepTime sets the sleep after each frame.
func (m *Streamer) SetSleepTime(d time.Duration) {
	m.SetAttribute(SleepTimeAttribute, d.Milliseconds())
}

// SetMaximumNumberOfFrames ends the stream after n frames.
func (m *Streamer) SetMaximumNumberOfFrames(n int) error {
	return m.SetAttribute(MaxFramesAttribute, n)
}

// NumberOfFrames returns the number of published frames.
func (m *Streamer) NumberOfFrames() int {
	return int(m.Frames())
}

// NumberOfSequences returns the number of added sequences.
func (m *Streamer) NumberOfSequences() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sequences)
}

// LoadAttributes implements fast.AttributeLoader. Invalid values are
// rejected before any of them is applied.
func (m *Streamer) LoadAttributes() error {
	start, err := m.IntegerAttribute(StartNumberAttribute)
	if err != nil {
		return err
	}
	step, err := m.IntegerAttribute(StepSizeAttribute)
	if err != nil {
		return err
	}
	replays, err := m.IntegerAttribute(ReplaysAttribute)
	if err != nil {
		return err
	}
	loop, err := m.BooleanAttribute(LoopAttribute)
	if err != nil {
		return err
	}
	sleep, err := m.IntegerAttribute(SleepTimeAttribute)
	if err != nil {
		return err
	}
	limit, err := m.IntegerAttribute(MaxFramesAttribute)
	if err != nil {
		return err
	}
	switch {
	case start < 0:
		return fast.Configurationf(m.Name(), "start number must not be negative, got %d", start)
	case step < 1:
		return fast.Configurationf(m.Name(), "step size must be positive, got %d", step)
	case replays < 0:
		return fast.Configurationf(m.Name(), "number of replays must not be negative, got %d", replays)
	case sleep < 0:
		return fast.Configurationf(m.Name(), "sleep time must not be negative, got %d", sleep)
	case limit < 0:
		return fast.Configurationf(m.Name(), "maximum number of frames must not be negative, got %d", limit)
	}

	m.mu.Lock()
	m.startNumber, m.stepSize, m.replays, m.looping = start, step, replays, loop
	m.mu.Unlock()
	m.SetFrameDelay(time.Duration(sleep) * time.Millisecond)
	m.Streamer.SetMaximumNumberOfFrames(uint64(limit))
	return nil
}

// Validate implements fast.Validator.
func (m *Streamer) Validate() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, seq := range m.sequences {
		if len(seq) > 0 {
			return nil
		}
	}
	return fast.Configurationf(m.Name(), "no data was added to the streamer")
}

// Produce implements fast.Streamable. The streamer keeps its reference,
// the returned one belongs to the caller.
func (m *Streamer) Produce(ctx context.Context) (fast.DataObject, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started {
		m.started = true
		m.frame = m.startNumber
	}
	if m.sequence >= len(m.sequences) {
		return nil, io.EOF
	}
	seq := m.sequences[m.sequence]
	if m.frame >= len(seq) {
		return nil, io.EOF
	}
	obj := seq[m.frame]
	m.frame += m.stepSize
	fast.Retain(obj)
	return obj, nil
}

// Rewind implements fast.Rewinder.
func (m *Streamer) Rewind() fast.Continuation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.next()
}

// next moves to the position after the current sequence is exhausted.
func (m *Streamer) next() fast.Continuation {
	switch {
	case m.sequence < len(m.sequences)-1:
		m.sequence++
		m.frame = m.startNumber
		return fast.NextSequence
	case m.looping:
		m.sequence = 0
		m.frame = m.startNumber
		return fast.Restart
	case m.replaysDone < m.replays:
		m.replaysDone++
		m.sequence = 0
		m.frame = m.startNumber
		return fast.Restart
	default:
		return fast.End
	}
}
