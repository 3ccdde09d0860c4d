package fast

import (
	"context"
	"reflect"
	"sync"

	"github.com/AustinTapp/FAST/metric"
)

type (
	// DataPort is an output slot of a process object. It has exactly one
	// producer and delivers every published object to all connections.
	DataPort struct {
		producer *ProcessObject
		index    int
		typ      reflect.Type
		drop     metric.DropFunc

		mu        sync.Mutex
		cond      *sync.Cond
		mode      StreamingMode
		depth     int
		seq       uint64
		current   *entry
		conns     []*Connection
		closed    error
		published uint64
		dropped   uint64
	}

	// Connection is a consumer subscription to a port. Each connection has
	// its own queue of pending objects.
	Connection struct {
		port   *DataPort
		queue  []entry
		last   uint64
		closed bool
	}

	// PortStats describes the port activity.
	PortStats struct {
		Published   uint64
		Dropped     uint64
		Connections int
	}

	entry struct {
		obj DataObject
		seq uint64
	}
)

func newDataPort(producer *ProcessObject, index int, typ reflect.Type) *DataPort {
	p := &DataPort{
		producer: producer,
		index:    index,
		typ:      typ,
		mode:     producer.cfg.StreamingMode,
		depth:    producer.cfg.QueueDepth,
		drop:     metric.Dropper(producer.component),
	}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Type returns the data type accepted by the port.
func (p *DataPort) Type() reflect.Type {
	return p.typ
}

// Index returns the output index of the port.
func (p *DataPort) Index() int {
	return p.index
}

// Producer returns the process object that owns the port.
func (p *DataPort) Producer() *ProcessObject {
	return p.producer
}

// SetStreamingMode changes the retention policy. Frames already queued
// are kept.
func (p *DataPort) SetStreamingMode(mode StreamingMode, depth int) error {
	if _, ok := streamingModes[mode]; !ok || depth < 1 {
		return Configurationf(p.producer.Name(), "invalid streaming mode %v with queue depth %d on output %d", mode, depth, p.index)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.mode = mode
	p.depth = depth
	p.cond.Broadcast()
	return nil
}

// Publish delivers the object to all connections. The caller's reference
// is transferred to the port. In ProcessAllFrames mode Publish blocks
// while any connection is full, until a frame is consumed, the port is
// closed or ctx is done.
func (p *DataPort) Publish(ctx context.Context, obj DataObject) error {
	if obj == nil {
		return Configurationf(p.producer.Name(), "nil data published to output %d", p.index)
	}
	if t := reflect.TypeOf(obj); !t.AssignableTo(p.typ) {
		Release(obj)
		return Configurationf(p.producer.Name(), "output %d expects %v, got %v", p.index, p.typ, t)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mode == ProcessAllFrames && p.full() {
		stop := context.AfterFunc(ctx, p.wake)
		defer stop()
		for p.full() && p.closed == nil && ctx.Err() == nil {
			p.cond.Wait()
		}
	}
	if p.closed != nil {
		Release(obj)
		return p.closed
	}
	if err := ctx.Err(); err != nil {
		Release(obj)
		return err
	}

	p.seq++
	obj.base().freeze(p.seq)
	e := entry{obj: obj, seq: p.seq}
	for _, c := range p.conns {
		Retain(obj)
		c.push(e)
	}
	if p.current != nil {
		Release(p.current.obj)
	}
	p.current = &e
	p.published++
	p.cond.Broadcast()
	return nil
}

// full reports whether any connection reached the queue depth.
func (p *DataPort) full() bool {
	if p.mode != ProcessAllFrames {
		return false
	}
	for _, c := range p.conns {
		if len(c.queue) >= p.depth {
			return true
		}
	}
	return false
}

func (p *DataPort) wake() {
	p.mu.Lock()
	p.cond.Broadcast()
	p.mu.Unlock()
}

// Subscribe creates a new connection. It is seeded with the most recent
// object if the port has published before.
func (p *DataPort) Subscribe() *Connection {
	p.mu.Lock()
	defer p.mu.Unlock()
	c := &Connection{port: p}
	if p.current != nil {
		Retain(p.current.obj)
		c.queue = append(c.queue, *p.current)
	}
	p.conns = append(p.conns, c)
	return c
}

// Current returns the most recently published object or nil. The
// reference stays with the port.
func (p *DataPort) Current() DataObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	return p.current.obj
}

// Close stops the port. Pending frames remain readable, then blocked
// readers and writers get the reason. A nil reason means ErrStreamStopped.
func (p *DataPort) Close(reason error) {
	if reason == nil {
		reason = ErrStreamStopped
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return
	}
	p.closed = reason
	if p.current != nil {
		Release(p.current.obj)
		p.current = nil
	}
	p.cond.Broadcast()
}

// Err returns the close reason or nil if the port is open.
func (p *DataPort) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Stats returns the port counters.
func (p *DataPort) Stats() PortStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PortStats{
		Published:   p.published,
		Dropped:     p.dropped,
		Connections: len(p.conns),
	}
}

// push appends the entry. Port lock must be held.
func (c *Connection) push(e entry) {
	if c.port.mode == NewestFrameOnly && len(c.queue) > 0 {
		for _, old := range c.queue {
			Release(old.obj)
		}
		n := uint64(len(c.queue))
		c.port.dropped += n
		c.port.drop(int64(n))
		c.queue[0] = e
		c.queue = c.queue[:1]
		return
	}
	c.queue = append(c.queue, e)
}

// pop removes the oldest entry. Port lock must be held.
func (c *Connection) pop() DataObject {
	e := c.queue[0]
	c.queue[0] = entry{}
	c.queue = c.queue[1:]
	c.last = e.seq
	c.port.cond.Broadcast()
	return e.obj
}

// Port returns the producer port of the connection.
func (c *Connection) Port() *DataPort {
	return c.port
}

// GetNextFrame returns the oldest pending object. If nothing is pending it
// blocks until a publish, close or ctx is done. The returned reference is
// owned by the caller.
func (c *Connection) GetNextFrame(ctx context.Context) (DataObject, error) {
	p := c.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.waiting() {
		stop := context.AfterFunc(ctx, p.wake)
		defer stop()
		for c.waiting() && ctx.Err() == nil {
			p.cond.Wait()
		}
	}
	switch {
	case len(c.queue) > 0:
		return c.pop(), nil
	case c.closed:
		return nil, ErrStreamStopped
	case p.closed != nil:
		return nil, p.closed
	default:
		return nil, ctx.Err()
	}
}

// waiting reports whether a read has to wait. Port lock must be held.
func (c *Connection) waiting() bool {
	return len(c.queue) == 0 && !c.closed && c.port.closed == nil
}

// TryNextFrame returns the oldest pending object without blocking.
func (c *Connection) TryNextFrame() (DataObject, bool) {
	c.port.mu.Lock()
	defer c.port.mu.Unlock()
	if len(c.queue) == 0 {
		return nil, false
	}
	return c.pop(), true
}

// HasCurrentData reports whether an object is pending.
func (c *Connection) HasCurrentData() bool {
	c.port.mu.Lock()
	defer c.port.mu.Unlock()
	return len(c.queue) > 0
}

// newest returns the sequence of the newest pending object, zero if
// nothing is pending.
func (c *Connection) newest() uint64 {
	c.port.mu.Lock()
	defer c.port.mu.Unlock()
	if len(c.queue) == 0 {
		return 0
	}
	return c.queue[len(c.queue)-1].seq
}

// Pending returns the number of pending objects.
func (c *Connection) Pending() int {
	c.port.mu.Lock()
	defer c.port.mu.Unlock()
	return len(c.queue)
}

// LastTimestamp returns the timestamp of the last consumed object.
func (c *Connection) LastTimestamp() uint64 {
	c.port.mu.Lock()
	defer c.port.mu.Unlock()
	return c.last
}

// Close unsubscribes the connection and releases pending objects.
func (c *Connection) Close() {
	p := c.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for _, e := range c.queue {
		Release(e.obj)
	}
	c.queue = nil
	for i, conn := range p.conns {
		if conn == c {
			p.conns = append(p.conns[:i], p.conns[i+1:]...)
			break
		}
	}
	p.cond.Broadcast()
}

// NextFrame returns the next object of the connection as T.
func NextFrame[T DataObject](ctx context.Context, c *Connection) (T, error) {
	var zero T
	obj, err := c.GetNextFrame(ctx)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		Release(obj)
		return zero, Configurationf(c.port.producer.Name(), "output %d delivered %T, want %v", c.port.index, obj, TypeOf[T]())
	}
	return v, nil
}
