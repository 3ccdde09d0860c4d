package fast

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

var (
	// ErrStreamStopped is returned by blocking port reads and writes once
	// the stream was stopped. It is a cancellation signal, not a failure.
	ErrStreamStopped = errors.New("stream stopped")

	// ErrEndOfStream is returned by blocking port reads once the producer
	// reached the end of its source. It matches ErrStreamStopped.
	ErrEndOfStream = fmt.Errorf("%w: end of stream", ErrStreamStopped)

	// ErrStreamExhausted is reported when a streamer reaches the end of
	// its source without ever producing a frame.
	ErrStreamExhausted = errors.New("stream exhausted before the first frame")

	// ErrDomainComputation matches every error returned by a node's
	// Execute method.
	ErrDomainComputation = errors.New("execute failed")

	// ErrImmutable is returned when a published data object is modified.
	ErrImmutable = errors.New("data object is published and immutable")

	// ErrConfigSealed is returned when the default config is replaced
	// after the first node was constructed.
	ErrConfigSealed = errors.New("default config is sealed")
)

// ConfigurationError is returned when a parameter or graph layout is
// invalid. It is reported at configure or connect time.
type ConfigurationError struct {
	Node   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("configuration error: %s", e.Reason)
	}
	return fmt.Sprintf("configuration error in %s: %s", e.Node, e.Reason)
}

// Configurationf creates a new configuration error for the node.
func Configurationf(node, format string, args ...interface{}) *ConfigurationError {
	return &ConfigurationError{Node: node, Reason: fmt.Sprintf(format, args...)}
}

// ConnectionTypeError is returned when an output port is connected to an
// input port that does not accept its data type.
type ConnectionTypeError struct {
	Producer string
	Output   int
	Consumer string
	Input    int
	Have     reflect.Type
	Want     reflect.Type
}

func (e *ConnectionTypeError) Error() string {
	return fmt.Sprintf("cannot connect %s output %d (%v) to %s input %d (%v)",
		e.Producer, e.Output, e.Have, e.Consumer, e.Input, e.Want)
}

// ExecuteError wraps a failure returned by a node's Execute method.
type ExecuteError struct {
	Node string
	Err  error
}

func (e *ExecuteError) Error() string {
	return fmt.Sprintf("%s execute error: %v", e.Node, e.Err)
}

// Unwrap returns the error returned by the node.
func (e *ExecuteError) Unwrap() error {
	return e.Err
}

// Is reports ErrDomainComputation for any execute error.
func (e *ExecuteError) Is(err error) bool {
	return err == ErrDomainComputation
}

// execErrors wraps errors that might occure when multiple nodes are
// failing.
type execErrors []error

func (e execErrors) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Is checks if any of errors match provided sentinel error.
func (e execErrors) Is(err error) bool {
	for _, se := range e {
		if errors.Is(se, err) {
			return true
		}
	}
	return false
}

// Unwrap returns the wrapped errors.
func (e execErrors) Unwrap() []error {
	return e
}

// ret returns untyped nil if error is list is empty.
func (e execErrors) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
