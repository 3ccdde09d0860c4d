package fast

import (
	"context"
	"errors"
	"reflect"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"github.com/AustinTapp/FAST/metric"
)

type (
	// Executable is the computation of a process object. Execute reads
	// inputs with InputData and publishes results with AddOutputData.
	Executable interface {
		Execute(ctx context.Context) error
	}

	// Node is implemented by every type that embeds a process object.
	Node interface {
		Node() *ProcessObject
	}

	// Validator is implemented by executables that check their
	// configuration before execution.
	Validator interface {
		Validate() error
	}

	// AttributeLoader is implemented by executables that apply attribute
	// values to their own fields after a batch of attributes was set.
	AttributeLoader interface {
		LoadAttributes() error
	}
)

// ProcessObject is a node of the pipeline graph. It owns its output ports
// and pulls its inputs from upstream nodes when updated.
type ProcessObject struct {
	uid       string
	name      string
	impl      Executable
	component interface{}
	cfg       Config
	log       logrus.FieldLogger
	meter     metric.ResetFunc
	measure   metric.MeasureFunc

	// update serialises Update calls on the node.
	update     sync.Mutex
	executions atomic.Uint64

	mu         sync.Mutex
	inputs     map[int]*input
	outputs    map[int]*DataPort
	attributes map[string]*Attribute
	order      []string
	modified   bool
	device     Device
}

type input struct {
	typ    reflect.Type
	conn   *Connection
	cached DataObject
	// static is the owned source of data set with SetInputData.
	static *ProcessObject
	// read is set when the running execution asked for the input.
	read bool
	// consumed is the sequence the last execution saw up to. Pending
	// objects up to it do not make the node dirty.
	consumed uint64
}

// Option configures a process object.
type Option func(*ProcessObject)

// WithConfig sets the runtime config of the process object.
func WithConfig(c Config) Option {
	return func(p *ProcessObject) {
		if c.Logger == nil {
			c.Logger = p.cfg.Logger
		}
		p.cfg = c
	}
}

// WithStreamingMode sets the retention policy of the output ports.
func WithStreamingMode(mode StreamingMode) Option {
	return func(p *ProcessObject) {
		p.cfg.StreamingMode = mode
	}
}

// WithQueueDepth sets the buffer size of ProcessAllFrames output ports.
func WithQueueDepth(depth int) Option {
	return func(p *ProcessObject) {
		p.cfg.QueueDepth = depth
	}
}

// WithLogger sets the logger of the process object.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *ProcessObject) {
		p.cfg.Logger = l
	}
}

// WithDevice assigns the execution device.
func WithDevice(d Device) Option {
	return func(p *ProcessObject) {
		p.device = d
	}
}

// withComponent sets the value metrics are grouped by.
func withComponent(c interface{}) Option {
	return func(p *ProcessObject) {
		p.component = c
	}
}

// NewProcessObject creates a node that runs impl. A new node is modified,
// so the first update executes it.
func NewProcessObject(name string, impl Executable, options ...Option) *ProcessObject {
	p := &ProcessObject{
		uid:        xid.New().String(),
		name:       name,
		impl:       impl,
		component:  impl,
		cfg:        DefaultConfig(),
		inputs:     make(map[int]*input),
		outputs:    make(map[int]*DataPort),
		attributes: make(map[string]*Attribute),
		modified:   true,
		device:     Host,
	}
	for _, option := range options {
		option(p)
	}
	if p.cfg.QueueDepth < 1 {
		p.cfg.QueueDepth = DefaultQueueDepth
	}
	p.log = p.cfg.Logger.WithFields(logrus.Fields{
		"node": p.name,
		"uid":  p.uid,
	})
	p.meter = metric.Meter(p.component)
	return p
}

// Node returns the process object itself.
func (p *ProcessObject) Node() *ProcessObject {
	return p
}

// Name returns the name of the node.
func (p *ProcessObject) Name() string {
	return p.name
}

// UID returns the unique id of the node.
func (p *ProcessObject) UID() string {
	return p.uid
}

// Logger returns the node logger.
func (p *ProcessObject) Logger() logrus.FieldLogger {
	return p.log
}

// Config returns the runtime config.
func (p *ProcessObject) Config() Config {
	return p.cfg
}

// Device returns the execution device.
func (p *ProcessObject) Device() Device {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// SetDevice assigns the execution device and marks the node modified.
func (p *ProcessObject) SetDevice(d Device) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.device = d
	p.modified = true
}

// Executions returns the number of successful executions.
func (p *ProcessObject) Executions() uint64 {
	return p.executions.Load()
}

// SetModified marks the node for execution on the next update.
func (p *ProcessObject) SetModified(modified bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modified = modified
}

// IsModified reports whether the node is marked for execution.
func (p *ProcessObject) IsModified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.modified
}

// AddInputPort declares an input slot that accepts typ.
func (p *ProcessObject) AddInputPort(index int, typ reflect.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in, ok := p.inputs[index]; ok {
		in.typ = typ
		return
	}
	p.inputs[index] = &input{typ: typ}
}

// AddOutputPort declares an output slot that publishes typ.
func (p *ProcessObject) AddOutputPort(index int, typ reflect.Type) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if port, ok := p.outputs[index]; ok {
		port.typ = typ
		return
	}
	p.outputs[index] = newDataPort(p, index, typ)
}

// InputPorts returns the number of declared input slots.
func (p *ProcessObject) InputPorts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inputs)
}

// OutputPorts returns the number of declared output slots.
func (p *ProcessObject) OutputPorts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.outputs)
}

// OutputPort returns the output port or nil if the slot is not declared.
func (p *ProcessObject) OutputPort(index int) *DataPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.outputs[index]
}

// ports returns output ports sorted by index.
func (p *ProcessObject) ports() []*DataPort {
	p.mu.Lock()
	defer p.mu.Unlock()
	ports := make([]*DataPort, 0, len(p.outputs))
	for _, port := range p.outputs {
		ports = append(ports, port)
	}
	sort.Slice(ports, func(i, j int) bool {
		return ports[i].index < ports[j].index
	})
	return ports
}

// SetInputConnection connects the input slot to a producer port. The
// previous connection of the slot is closed.
func (p *ProcessObject) SetInputConnection(index int, port *DataPort) error {
	return p.connect(index, port, nil)
}

func (p *ProcessObject) connect(index int, port *DataPort, static *ProcessObject) error {
	if port == nil {
		return Configurationf(p.name, "nil port connected to input %d", index)
	}
	if port.producer == p || port.producer.dependsOn(p) {
		return Configurationf(p.name, "connecting %s output %d to input %d creates a cycle", port.producer.name, port.index, index)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	in, ok := p.inputs[index]
	if !ok {
		return Configurationf(p.name, "input %d is not declared", index)
	}
	if !port.typ.AssignableTo(in.typ) {
		return &ConnectionTypeError{
			Producer: port.producer.name,
			Output:   port.index,
			Consumer: p.name,
			Input:    index,
			Have:     port.typ,
			Want:     in.typ,
		}
	}
	in.reset()
	in.conn = port.Subscribe()
	in.static = static
	p.modified = true
	p.log.WithFields(logrus.Fields{
		"port":     index,
		"producer": port.producer.name,
	}).Debug("connected")
	return nil
}

// SetInputData connects the input slot to a static source of obj. The
// reference to obj is transferred to the node.
func (p *ProcessObject) SetInputData(index int, obj DataObject) error {
	if obj == nil {
		return Configurationf(p.name, "nil data set to input %d", index)
	}
	src := newStaticSource(p.name, index, obj, p.cfg)
	if err := p.connect(index, src.OutputPort(0), src); err != nil {
		Release(obj)
		return err
	}
	return nil
}

// dependsOn reports whether target is upstream of the node.
func (p *ProcessObject) dependsOn(target *ProcessObject) bool {
	for _, producer := range p.producers() {
		if producer == target || producer.dependsOn(target) {
			return true
		}
	}
	return false
}

// producers returns distinct upstream nodes ordered by input index.
func (p *ProcessObject) producers() []*ProcessObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	indexes := make([]int, 0, len(p.inputs))
	for i := range p.inputs {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	seen := make(map[*ProcessObject]struct{})
	var producers []*ProcessObject
	for _, i := range indexes {
		in := p.inputs[i]
		if in.conn == nil {
			continue
		}
		producer := in.conn.port.producer
		if _, ok := seen[producer]; ok {
			continue
		}
		seen[producer] = struct{}{}
		producers = append(producers, producer)
	}
	return producers
}

// dirty reports whether the node is modified or has input newer than
// its last execution consumed.
func (p *ProcessObject) dirty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.modified {
		return true
	}
	for _, in := range p.inputs {
		if in.conn != nil && in.conn.newest() > in.consumed {
			return true
		}
	}
	return false
}

// beginExecution clears the read marks of the inputs.
func (p *ProcessObject) beginExecution() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range p.inputs {
		in.read = false
	}
}

// markConsumed records how far each input was consumed. A read input is
// consumed up to its last taken object, so a backlog keeps the node dirty.
// An input the execution ignored is consumed up to its newest object.
func (p *ProcessObject) markConsumed() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, in := range p.inputs {
		switch {
		case in.conn == nil:
		case in.read:
			in.consumed = in.conn.LastTimestamp()
		default:
			if n := in.conn.newest(); n > in.consumed {
				in.consumed = n
			}
		}
	}
}

// Update brings the node up to date. Upstream nodes are updated first,
// then the node executes if it is modified or any input has data newer
// than its last execution consumed.
// Failures are returned to the caller and the node stays modified.
func (p *ProcessObject) Update(ctx context.Context) error {
	p.update.Lock()
	defer p.update.Unlock()

	for _, producer := range p.producers() {
		if err := producer.Update(ctx); err != nil {
			return err
		}
	}
	if !p.dirty() {
		return nil
	}
	if v, ok := p.impl.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}

	p.SetModified(false)
	p.beginExecution()
	published := p.publishedFrames()
	if p.measure == nil {
		p.measure = p.meter()
	}
	if err := p.impl.Execute(ctx); err != nil {
		p.SetModified(true)
		p.log.WithError(err).Debug("execute failed")
		return wrapExecute(p.name, err)
	}
	p.markConsumed()
	p.executions.Add(1)
	p.measure(int64(p.publishedFrames() - published))
	p.log.WithField("executions", p.executions.Load()).Debug("executed")
	return nil
}

func (p *ProcessObject) publishedFrames() uint64 {
	var n uint64
	for _, port := range p.ports() {
		n += port.Stats().Published
	}
	return n
}

// wrapExecute wraps domain failures. Errors that already carry a
// category are returned as is.
func wrapExecute(node string, err error) error {
	var (
		cfgErr  *ConfigurationError
		typeErr *ConnectionTypeError
		execErr *ExecuteError
	)
	switch {
	case errors.As(err, &cfgErr),
		errors.As(err, &typeErr),
		errors.As(err, &execErr),
		errors.Is(err, ErrStreamStopped),
		errors.Is(err, ErrStreamExhausted),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return &ExecuteError{Node: node, Err: err}
}

// InputData returns the input object for the current execution. A
// pending object is consumed and cached, otherwise the cached object of
// the previous execution is returned. If the input never received data,
// InputData blocks until the producer publishes or ctx is done. The
// reference stays with the node until the next object arrives.
func (p *ProcessObject) InputData(ctx context.Context, index int) (DataObject, error) {
	p.mu.Lock()
	in, ok := p.inputs[index]
	var conn *Connection
	if ok {
		conn = in.conn
		in.read = true
	}
	p.mu.Unlock()
	if !ok {
		return nil, Configurationf(p.name, "input %d is not declared", index)
	}
	if conn == nil {
		return nil, Configurationf(p.name, "input %d is not connected", index)
	}

	if obj, ok := conn.TryNextFrame(); ok {
		return p.cache(in, obj), nil
	}
	p.mu.Lock()
	cached := in.cached
	p.mu.Unlock()
	if cached != nil {
		return cached, nil
	}
	obj, err := conn.GetNextFrame(ctx)
	if err != nil {
		return nil, err
	}
	return p.cache(in, obj), nil
}

func (p *ProcessObject) cache(in *input, obj DataObject) DataObject {
	p.mu.Lock()
	defer p.mu.Unlock()
	if in.cached != nil {
		Release(in.cached)
	}
	in.cached = obj
	return obj
}

// Input returns the input object as T.
func Input[T DataObject](ctx context.Context, p *ProcessObject, index int) (T, error) {
	var zero T
	obj, err := p.InputData(ctx, index)
	if err != nil {
		return zero, err
	}
	v, ok := obj.(T)
	if !ok {
		return zero, Configurationf(p.name, "input %d holds %T, want %v", index, obj, TypeOf[T]())
	}
	return v, nil
}

// AddOutputData publishes the object to the output slot. The caller's
// reference is transferred to the port.
func (p *ProcessObject) AddOutputData(ctx context.Context, index int, obj DataObject) error {
	port := p.OutputPort(index)
	if port == nil {
		if obj != nil {
			Release(obj)
		}
		return Configurationf(p.name, "output %d is not declared", index)
	}
	return port.Publish(ctx, obj)
}

// Close disconnects all inputs and closes all output ports. Cached input
// references are released.
func (p *ProcessObject) Close() {
	p.mu.Lock()
	for _, in := range p.inputs {
		in.reset()
	}
	p.mu.Unlock()
	for _, port := range p.ports() {
		port.Close(ErrStreamStopped)
	}
}

// reset drops the connection and the cached object. Node lock must be
// held.
func (in *input) reset() {
	if in.conn != nil {
		in.conn.Close()
		in.conn = nil
	}
	if in.cached != nil {
		Release(in.cached)
		in.cached = nil
	}
	if in.static != nil {
		in.static.Close()
		in.static = nil
	}
	in.read = false
	in.consumed = 0
}
