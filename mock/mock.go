// Package mock provides mocks for pipeline nodes and data, and allows to
// execute integration tests.
package mock

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/AustinTapp/FAST"
)

// DataType is the port type of mock data.
var DataType = fast.TypeOf[*Data]()

// Data mocks a data object carrying an integer value.
type Data struct {
	fast.Base
	Value int
	freed int32
}

// NewData returns new mock data.
func NewData(v int) *Data {
	return &Data{Value: v}
}

// FreeAll counts the calls and drops device copies.
func (d *Data) FreeAll() {
	atomic.AddInt32(&d.freed, 1)
	d.Base.FreeAll()
}

// Freed returns the number of FreeAll calls.
func (d *Data) Freed() int {
	return int(atomic.LoadInt32(&d.freed))
}

// counter is thread-safe because streams run in their own goroutine.
type counter struct {
	mu       sync.Mutex
	calls    int
	produced int
}

func (c *counter) advance() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	c.produced++
}

func (c *counter) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.produced = 0
}

// Calls returns the number of executions.
func (c *counter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Source publishes a mock data on every execution. The value is read
// from the "value" attribute.
type Source struct {
	*fast.ProcessObject
	counter
	ErrorOnCall error
}

// NewSource returns a source of value.
func NewSource(name string, value int, options ...fast.Option) *Source {
	m := &Source{}
	m.ProcessObject = fast.NewProcessObject(name, m, options...)
	m.AddOutputPort(0, DataType)
	m.CreateIntegerAttribute("value", "Value", "Value of published data", value)
	return m
}

// Execute implements fast.Executable.
func (m *Source) Execute(ctx context.Context) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	v, err := m.IntegerAttribute("value")
	if err != nil {
		return err
	}
	m.advance()
	return m.AddOutputData(ctx, 0, NewData(v))
}

// Filter publishes the input value increased by the offset.
type Filter struct {
	*fast.ProcessObject
	counter
	Offset      int
	ErrorOnCall error
}

// NewFilter returns a filter with zero offset.
func NewFilter(name string, options ...fast.Option) *Filter {
	m := &Filter{}
	m.ProcessObject = fast.NewProcessObject(name, m, options...)
	m.AddInputPort(0, DataType)
	m.AddOutputPort(0, DataType)
	m.CreateIntegerAttribute("offset", "Offset", "Value added to the input", 0)
	return m
}

// LoadAttributes implements fast.AttributeLoader.
func (m *Filter) LoadAttributes() error {
	v, err := m.IntegerAttribute("offset")
	if err != nil {
		return err
	}
	m.Offset = v
	return nil
}

// Execute implements fast.Executable.
func (m *Filter) Execute(ctx context.Context) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	in, err := fast.Input[*Data](ctx, m.ProcessObject, 0)
	if err != nil {
		return err
	}
	m.advance()
	return m.AddOutputData(ctx, 0, NewData(in.Value+m.Offset))
}

// Sink records received values.
type Sink struct {
	*fast.ProcessObject
	counter
	values      []int
	ErrorOnCall error
}

// NewSink returns an empty sink.
func NewSink(name string, options ...fast.Option) *Sink {
	m := &Sink{}
	m.ProcessObject = fast.NewProcessObject(name, m, options...)
	m.AddInputPort(0, fast.AnyData)
	return m
}

// Execute implements fast.Executable.
func (m *Sink) Execute(ctx context.Context) error {
	if m.ErrorOnCall != nil {
		return m.ErrorOnCall
	}
	in, err := m.InputData(ctx, 0)
	if err != nil {
		return err
	}
	m.advance()
	if d, ok := in.(*Data); ok {
		m.mu.Lock()
		m.values = append(m.values, d.Value)
		m.mu.Unlock()
	}
	return nil
}

// Values returns the recorded values.
func (m *Sink) Values() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int(nil), m.values...)
}

// Stream mocks a fast.Streamable. Values are frame numbers starting at
// zero.
type Stream struct {
	counter
	Limit    int
	Interval time.Duration
	// Step sets creation timestamps of frames in milliseconds.
	Step        uint64
	Loop        bool
	ErrorOnCall error
	node        *fast.Streamer
}

// Produce implements fast.Streamable.
func (m *Stream) Produce(ctx context.Context) (fast.DataObject, error) {
	if m.ErrorOnCall != nil {
		return nil, m.ErrorOnCall
	}
	m.mu.Lock()
	n, limit, interval := m.produced, m.Limit, m.Interval
	m.mu.Unlock()
	if n >= limit {
		return nil, io.EOF
	}
	if interval > 0 {
		t := time.NewTimer(interval)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	d := NewData(n)
	if m.Step > 0 {
		if err := d.SetCreationTimestamp(uint64(n+1) * m.Step); err != nil {
			return nil, err
		}
	}
	m.advance()
	return d, nil
}

// Rewind implements fast.Rewinder.
func (m *Stream) Rewind() fast.Continuation {
	m.mu.Lock()
	loop := m.Loop
	m.mu.Unlock()
	if !loop {
		return fast.End
	}
	m.reset()
	return fast.Restart
}

// LoadAttributes implements fast.AttributeLoader.
func (m *Stream) LoadAttributes() error {
	if m.node == nil {
		return nil
	}
	limit, err := m.node.IntegerAttribute("limit")
	if err != nil {
		return err
	}
	interval, err := m.node.IntegerAttribute("interval")
	if err != nil {
		return err
	}
	loop, err := m.node.BooleanAttribute("loop")
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.Limit, m.Interval, m.Loop = limit, time.Duration(interval)*time.Millisecond, loop
	m.mu.Unlock()
	return nil
}

// NewStreamer returns a streamer of limit frames.
func NewStreamer(name string, limit int, options ...fast.Option) (*fast.Streamer, *Stream) {
	m := &Stream{Limit: limit}
	s := fast.NewStreamer(name, m, options...)
	s.AddOutputPort(0, DataType)
	s.CreateIntegerAttribute("limit", "Limit", "Number of frames per sequence", limit)
	s.CreateIntegerAttribute("interval", "Interval", "Sleep before each frame in milliseconds", 0)
	s.CreateBooleanAttribute("loop", "Loop", "Restart the stream when exhausted", false)
	m.node = s
	return s, m
}
