package fast

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/AustinTapp/FAST/internal/runtime"
)

type (
	// Streamable is the frame source of a streamer. Produce returns the
	// next frame or io.EOF when the current sequence is exhausted.
	Streamable interface {
		Produce(ctx context.Context) (DataObject, error)
	}

	// Rewinder is implemented by sources that can continue after io.EOF.
	// Rewind is called by the background loop on exhaustion and returns
	// how the stream continues.
	Rewinder interface {
		Rewind() Continuation
	}
)

// loopKey marks the context of a streamer background loop.
type loopKey struct{}

// Streamer is a process object that publishes frames from a background
// loop. Update starts the loop and returns once the first frame is
// published.
type Streamer struct {
	*ProcessObject
	source Streamable

	// start guards the loop lifecycle.
	start   sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// stop guards the stop flag.
	stop    sync.Mutex
	stopped bool

	// first is closed when the first frame is published or the loop ends.
	first     chan struct{}
	firstOnce sync.Once
	firstErr  error

	status    sync.Mutex
	state     StreamerState
	frames    uint64
	err       error
	delay     time.Duration
	maxFrames uint64

	// pacing is only accessed by the loop.
	prevStamp uint64
	prevTime  time.Time
}

// NewStreamer creates a streamer that publishes frames of source.
// Output ports are declared by the caller.
func NewStreamer(name string, source Streamable, options ...Option) *Streamer {
	s := &Streamer{
		source: source,
		first:  make(chan struct{}),
	}
	options = append(options, withComponent(source))
	s.ProcessObject = NewProcessObject(name, s, options...)
	return s
}

// SetFrameDelay sets a fixed sleep after each published frame.
func (s *Streamer) SetFrameDelay(d time.Duration) {
	s.status.Lock()
	defer s.status.Unlock()
	s.delay = d
}

// SetMaximumNumberOfFrames ends the stream after n frames. Zero means no
// limit.
func (s *Streamer) SetMaximumNumberOfFrames(n uint64) {
	s.status.Lock()
	defer s.status.Unlock()
	s.maxFrames = n
}

// Status returns a snapshot of the streamer progress.
func (s *Streamer) Status() StreamerStatus {
	s.status.Lock()
	defer s.status.Unlock()
	return StreamerStatus{
		State:  s.state,
		Frames: s.frames,
		Err:    s.err,
	}
}

// State returns the current state.
func (s *Streamer) State() StreamerState {
	return s.Status().State
}

// Frames returns the number of published frames.
func (s *Streamer) Frames() uint64 {
	return s.Status().Frames
}

// Err returns the error that stopped the background loop.
func (s *Streamer) Err() error {
	return s.Status().Err
}

// HasReachedEnd reports whether the source is exhausted.
func (s *Streamer) HasReachedEnd() bool {
	return s.State() == ReachedEnd
}

// Execute validates the source, starts the background loop and waits
// for the first frame.
func (s *Streamer) Execute(ctx context.Context) error {
	if v, ok := s.source.(Validator); ok {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	if err := s.Start(); err != nil {
		return err
	}
	select {
	case <-s.first:
		return s.firstErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LoadAttributes lets the source apply attribute values.
func (s *Streamer) LoadAttributes() error {
	if l, ok := s.source.(AttributeLoader); ok {
		return l.LoadAttributes()
	}
	return nil
}

// Start launches the background loop. It is idempotent while the
// streamer runs and returns ErrStreamStopped after Stop.
func (s *Streamer) Start() error {
	if s.isStopping() {
		return ErrStreamStopped
	}
	s.start.Lock()
	defer s.start.Unlock()
	if s.started {
		return nil
	}
	s.started = true
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), loopKey{}, s))
	s.cancel = cancel
	s.done = make(chan struct{})
	s.setState(Starting)

	errc := runtime.Run(ctx, runtime.Loop{
		StartFunc:   s.startLoop,
		ExecuteFunc: s.iterate,
		FlushFunc:   s.flush,
	})
	go func() {
		defer close(s.done)
		for err := range errc {
			s.fail(err)
		}
	}()
	return nil
}

// Stop ends the background loop and waits until it exits. Output ports
// are closed. Called from the loop itself Stop only sets the stop flag.
func (s *Streamer) Stop(ctx context.Context) error {
	if owner, ok := ctx.Value(loopKey{}).(*Streamer); ok && owner == s {
		s.stop.Lock()
		s.stopped = true
		s.stop.Unlock()
		return nil
	}

	s.start.Lock()
	started, done := s.started, s.done
	if s.cancel != nil {
		// publishes that observe the flag also observe the cancellation
		s.cancel()
	}
	s.stop.Lock()
	s.stopped = true
	s.stop.Unlock()
	s.started = true
	s.start.Unlock()

	if !started {
		s.closePorts(ErrStreamStopped)
		s.ready(ErrStreamStopped)
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Streamer) isStopping() bool {
	s.stop.Lock()
	defer s.stop.Unlock()
	return s.stopped
}

func (s *Streamer) startLoop(ctx context.Context) error {
	s.log.Debug("streamer started")
	return nil
}

// iterate publishes a single frame and records loop failures.
func (s *Streamer) iterate(ctx context.Context) error {
	err := s.next(ctx)
	if err != nil && !errors.Is(err, io.EOF) {
		s.fail(err)
	}
	return err
}

func (s *Streamer) next(ctx context.Context) error {
	if s.isStopping() {
		return io.EOF
	}
	s.status.Lock()
	limit, produced, delay := s.maxFrames, s.frames, s.delay
	s.status.Unlock()
	if limit > 0 && produced >= limit {
		s.setState(ReachedEnd)
		return io.EOF
	}

	obj, err := s.source.Produce(ctx)
	switch {
	case errors.Is(err, io.EOF):
		return s.rewind(produced)
	case err != nil:
		if ctx.Err() != nil {
			return io.EOF
		}
		return err
	}

	if err := s.pace(ctx, obj); err != nil {
		Release(obj)
		return io.EOF
	}
	if s.isStopping() {
		Release(obj)
		return io.EOF
	}
	if err := s.publish(ctx, obj); err != nil {
		if errors.Is(err, ErrStreamStopped) || ctx.Err() != nil {
			return io.EOF
		}
		return err
	}

	s.status.Lock()
	s.frames++
	if s.state == Starting || s.state == Looping {
		s.state = Streaming
	}
	frame := s.frames
	s.status.Unlock()
	s.ready(nil)
	s.log.WithField("frame", frame).Debug("frame published")

	if delay > 0 {
		if err := sleep(ctx, delay); err != nil {
			return io.EOF
		}
	}
	return nil
}

// publish delivers the frame to every output port.
func (s *Streamer) publish(ctx context.Context, obj DataObject) error {
	ports := s.ports()
	if len(ports) == 0 {
		Release(obj)
		return Configurationf(s.name, "streamer has no output ports")
	}
	for _, port := range ports[1:] {
		Retain(obj)
		if err := port.Publish(ctx, obj); err != nil {
			Release(obj)
			return err
		}
	}
	return ports[0].Publish(ctx, obj)
}

// rewind handles source exhaustion.
func (s *Streamer) rewind(produced uint64) error {
	if produced == 0 {
		return ErrStreamExhausted
	}
	next := End
	if r, ok := s.source.(Rewinder); ok {
		next = r.Rewind()
	}
	s.log.WithField("continuation", next).Debug("source exhausted")
	s.prevTime = time.Time{}
	switch next {
	case Restart:
		s.setState(Looping)
		return nil
	case NextSequence:
		return nil
	default:
		s.setState(ReachedEnd)
		return io.EOF
	}
}

// pace sleeps for the difference of creation timestamps between frames.
func (s *Streamer) pace(ctx context.Context, obj DataObject) error {
	stamp := obj.CreationTimestamp()
	if stamp == 0 {
		return nil
	}
	if !s.prevTime.IsZero() && stamp > s.prevStamp {
		wait := time.Duration(stamp-s.prevStamp)*time.Millisecond - time.Since(s.prevTime)
		if wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}
	}
	s.prevStamp, s.prevTime = stamp, time.Now()
	return nil
}

func (s *Streamer) flush(ctx context.Context) error {
	s.status.Lock()
	switch {
	case s.state.terminal():
	case s.isStopping():
		s.state = Stopped
	default:
		s.state = ReachedEnd
	}
	state := s.state
	s.status.Unlock()

	reason := ErrStreamStopped
	if state == ReachedEnd {
		reason = ErrEndOfStream
	}
	s.closePorts(reason)
	s.ready(reason)
	s.log.WithField("state", state).Debug("streamer finished")
	return nil
}

// fail records a background error. The first error wins.
func (s *Streamer) fail(err error) {
	s.status.Lock()
	s.state = Failed
	if s.err != nil {
		s.status.Unlock()
		return
	}
	s.err = err
	s.status.Unlock()
	s.ready(err)
	s.log.WithError(err).Error("streamer failed")
}

func (s *Streamer) setState(state StreamerState) {
	s.status.Lock()
	defer s.status.Unlock()
	if !s.state.terminal() {
		s.state = state
	}
}

// ready releases Execute callers waiting for the first frame.
func (s *Streamer) ready(err error) {
	s.firstOnce.Do(func() {
		s.firstErr = err
		close(s.first)
	})
}

func (s *Streamer) closePorts(reason error) {
	for _, port := range s.ports() {
		port.Close(reason)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Streamers returns the streamer nodes among nodes.
func Streamers(nodes ...Node) []*Streamer {
	var streamers []*Streamer
	for _, n := range nodes {
		if s, ok := n.Node().impl.(*Streamer); ok {
			streamers = append(streamers, s)
		}
	}
	return streamers
}

// StopAll stops every streamer among nodes and aggregates failures.
func StopAll(ctx context.Context, nodes ...Node) error {
	var errs execErrors
	for _, s := range Streamers(nodes...) {
		if err := s.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errs.ret()
}
