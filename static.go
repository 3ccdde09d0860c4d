package fast

import (
	"context"
	"fmt"
	"reflect"
)

// staticSource publishes a single object set with SetInputData.
type staticSource struct {
	node      *ProcessObject
	obj       DataObject
	published bool
}

func newStaticSource(consumer string, index int, obj DataObject, cfg Config) *ProcessObject {
	s := &staticSource{obj: obj}
	s.node = NewProcessObject(fmt.Sprintf("%s.input%d", consumer, index), s, WithConfig(cfg))
	s.node.AddOutputPort(0, reflect.TypeOf(obj))
	return s.node
}

// Execute publishes the object once. The port keeps it for late
// subscribers.
func (s *staticSource) Execute(ctx context.Context) error {
	if s.published {
		return nil
	}
	if err := s.node.AddOutputData(ctx, 0, s.obj); err != nil {
		return err
	}
	s.published = true
	return nil
}
