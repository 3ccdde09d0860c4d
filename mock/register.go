package mock

import (
	"github.com/AustinTapp/FAST"
	"github.com/AustinTapp/FAST/pipeline"
)

// Registered type names.
const (
	SourceType   = "MockSource"
	FilterType   = "MockFilter"
	SinkType     = "MockSink"
	StreamerType = "MockStreamer"
)

// Register adds the mock nodes to the registry.
func Register(r *pipeline.Registry) error {
	factories := map[string]pipeline.Factory{
		SourceType: func(id string, options ...fast.Option) (fast.Node, error) {
			return NewSource(id, 0, options...), nil
		},
		FilterType: func(id string, options ...fast.Option) (fast.Node, error) {
			return NewFilter(id, options...), nil
		},
		SinkType: func(id string, options ...fast.Option) (fast.Node, error) {
			return NewSink(id, options...), nil
		},
		StreamerType: func(id string, options ...fast.Option) (fast.Node, error) {
			s, _ := NewStreamer(id, 0, options...)
			return s, nil
		},
	}
	for _, typ := range []string{SourceType, FilterType, SinkType, StreamerType} {
		if err := r.Register(typ, factories[typ]); err != nil {
			return err
		}
	}
	return nil
}
