package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/AustinTapp/FAST"
	"github.com/AustinTapp/FAST/mock"
	"github.com/AustinTapp/FAST/pipeline"
)

const waitTimeout = 2 * time.Second

const filterPipeline = `
name: filter
description: source to sink through a filter
process_objects:
  - id: source
    type: MockSource
    attributes:
      value: 3
  - id: filter
    type: MockFilter
    attributes:
      offset: "2"
  - id: sink
    type: MockSink
connections:
  - from: source
    to: filter:0
  - from: filter:0
    to: sink
`

const streamPipeline = `
name: stream
process_objects:
  - id: stream
    type: MockStreamer
    attributes:
      limit: 5
  - id: sink
    type: MockSink
connections:
  - from: stream
    to: sink
`

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func registry(t *testing.T) *pipeline.Registry {
	t.Helper()
	r := pipeline.NewRegistry()
	require.NoError(t, mock.Register(r))
	return r
}

func build(t *testing.T, yaml string, options ...fast.Option) *pipeline.Pipeline {
	t.Helper()
	d, err := pipeline.Parse([]byte(yaml))
	require.NoError(t, err)
	p, err := pipeline.Build(d, registry(t), options...)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		assert.NoError(t, p.Stop(ctx))
	})
	return p
}

func sink(t *testing.T, p *pipeline.Pipeline) *mock.Sink {
	t.Helper()
	n, ok := p.Node("sink")
	require.True(t, ok)
	return n.(*mock.Sink)
}

func TestParseEndpoint(t *testing.T) {
	tests := []struct {
		in       string
		expected pipeline.Endpoint
		err      bool
	}{
		{in: "source", expected: pipeline.Endpoint{ID: "source"}},
		{in: "source:2", expected: pipeline.Endpoint{ID: "source", Port: 2}},
		{in: "source:", expected: pipeline.Endpoint{ID: "source"}},
		{in: "a:b:1", expected: pipeline.Endpoint{ID: "a:b", Port: 1}},
		{in: "", err: true},
		{in: ":1", err: true},
		{in: "source:x", err: true},
		{in: "source:-1", err: true},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			e, err := pipeline.ParseEndpoint(test.in)
			if test.err {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, test.expected, e)
		})
	}
}

func TestParse(t *testing.T) {
	d, err := pipeline.Parse([]byte(filterPipeline))
	require.NoError(t, err)
	assert.Equal(t, "filter", d.Name)
	assert.Len(t, d.ProcessObjects, 3)
	assert.Equal(t, 3, d.ProcessObjects[0].Attributes["value"])
	assert.Equal(t, pipeline.Connection{From: "source", To: "filter:0"}, d.Connections[0])
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing id",
			yaml: "process_objects:\n  - type: MockSink\n",
		},
		{
			name: "missing type",
			yaml: "process_objects:\n  - id: sink\n",
		},
		{
			name: "duplicate id",
			yaml: "process_objects:\n  - {id: sink, type: MockSink}\n  - {id: sink, type: MockSink}\n",
		},
		{
			name: "unknown node",
			yaml: "process_objects:\n  - {id: sink, type: MockSink}\nconnections:\n  - {from: source, to: sink}\n",
		},
		{
			name: "invalid endpoint",
			yaml: "process_objects:\n  - {id: sink, type: MockSink}\nconnections:\n  - {from: 'sink:x', to: sink}\n",
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := pipeline.Parse([]byte(test.yaml))
			var cfgErr *fast.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "%v", err)
		})
	}

	_, err := pipeline.Parse([]byte("process_objects: {"))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.yaml")
	require.NoError(t, os.WriteFile(path, []byte(streamPipeline), 0o600))
	d, err := pipeline.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "stream", d.Name)

	_, err = pipeline.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := registry(t)
	assert.Equal(t, []string{
		mock.FilterType,
		mock.SinkType,
		mock.SourceType,
		mock.StreamerType,
	}, r.Types())
	assert.Error(t, mock.Register(r))
	assert.Error(t, r.Register("", nil))

	_, err := r.New("Unknown", "node")
	var cfgErr *fast.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	n, err := r.New(mock.SinkType, "sink")
	require.NoError(t, err)
	assert.Equal(t, "sink", n.Node().Name())
}

func TestBuild(t *testing.T) {
	p := build(t, filterPipeline)
	assert.Equal(t, "filter", p.Name)
	assert.Equal(t, []string{"source", "filter", "sink"}, p.Nodes())
	assert.Equal(t, []string{"sink"}, p.Terminals())
	assert.Empty(t, p.Streamers())

	require.NoError(t, p.Update(context.Background()))
	assert.Equal(t, []int{5}, sink(t, p).Values())

	// nothing changed, so nothing executes
	require.NoError(t, p.Update(context.Background()))
	assert.Equal(t, []int{5}, sink(t, p).Values())

	n, ok := p.Node("source")
	require.True(t, ok)
	require.NoError(t, n.Node().SetAttribute("value", 10))
	require.NoError(t, p.Update(context.Background()))
	assert.Equal(t, []int{5, 12}, sink(t, p).Values())
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "unknown type",
			yaml: "process_objects:\n  - {id: sink, type: Unknown}\n",
		},
		{
			name: "unknown attribute",
			yaml: "process_objects:\n  - {id: sink, type: MockSink, attributes: {size: 1}}\n",
		},
		{
			name: "invalid attribute",
			yaml: "process_objects:\n  - {id: source, type: MockSource, attributes: {value: abc}}\n",
		},
		{
			name: "undeclared output",
			yaml: "process_objects:\n  - {id: source, type: MockSource}\n  - {id: sink, type: MockSink}\n" +
				"connections:\n  - {from: 'source:1', to: sink}\n",
		},
		{
			name: "undeclared input",
			yaml: "process_objects:\n  - {id: source, type: MockSource}\n  - {id: sink, type: MockSink}\n" +
				"connections:\n  - {from: source, to: 'sink:1'}\n",
		},
		{
			name: "cycle",
			yaml: "process_objects:\n  - {id: a, type: MockFilter}\n  - {id: b, type: MockFilter}\n" +
				"connections:\n  - {from: a, to: b}\n  - {from: b, to: a}\n",
		},
	}
	r := registry(t)
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			d, err := pipeline.Parse([]byte(test.yaml))
			require.NoError(t, err)
			_, err = pipeline.Build(d, r)
			var cfgErr *fast.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr), "%v", err)
		})
	}
}

func TestRun(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	p := build(t, streamPipeline, fast.WithStreamingMode(fast.ProcessAllFrames))
	assert.Len(t, p.Streamers(), 1)

	n, err := p.Run(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, sink(t, p).Values())
	assert.True(t, p.Streamers()["stream"].HasReachedEnd())
}

func TestRunFrames(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	p := build(t, streamPipeline, fast.WithStreamingMode(fast.ProcessAllFrames))
	n, _ := p.Node("stream")
	require.NoError(t, n.Node().SetAttributes(map[string]interface{}{
		"limit": 1000,
		"loop":  true,
	}))

	done, err := p.Run(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, done)
	assert.Equal(t, []int{0, 1, 2}, sink(t, p).Values())
}

func TestRunExhausted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	p := build(t, streamPipeline)
	n, _ := p.Node("stream")
	require.NoError(t, n.Node().SetAttribute("limit", 0))

	done, err := p.Run(ctx, 0)
	assert.ErrorIs(t, err, fast.ErrStreamExhausted)
	assert.Zero(t, done)
}

func TestStop(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	d, err := pipeline.Parse([]byte(`
name: two streams
process_objects:
  - {id: first, type: MockStreamer, attributes: {limit: 1000, interval: 1}}
  - {id: second, type: MockStreamer, attributes: {limit: 1000, interval: 1}}
  - {id: sink, type: MockSink}
connections:
  - {from: first, to: sink}
`))
	require.NoError(t, err)
	p, err := pipeline.Build(d, registry(t))
	require.NoError(t, err)
	assert.Len(t, p.Streamers(), 2)
	assert.Equal(t, []string{"second", "sink"}, p.Terminals())

	require.NoError(t, p.Update(ctx))
	require.NoError(t, p.Stop(ctx))
	for id, s := range p.Streamers() {
		assert.Equal(t, fast.Stopped, s.State(), id)
	}
}
